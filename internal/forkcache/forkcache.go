// Package forkcache memoizes fully decoded forks so that rewinding a layer
// stack does not redo expensive decompression. Entries are admitted through
// a TinyLFU filter and keyed by a 64-bit hash of the owning container's
// identity plus the fork's position within it.
package forkcache

import (
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

// MaxForkSize bounds what is worth keeping; bigger forks are re-decoded.
const MaxForkSize = 1 << 20

const (
	cacheSize    = 512
	cacheSamples = 51200
)

var (
	mu    sync.Mutex
	cache = tinylfu.New(cacheSize, cacheSamples)
)

var monotonic uint64

// NewID returns a process-unique container identity.
func NewID() uint64 {
	return atomic.AddUint64(&monotonic, 1)
}

// Key derives the cache key for one fork of one entry of one container.
func Key(container uint64, entryOffset int64, fork uint8) string {
	var b [17]byte
	binary.BigEndian.PutUint64(b[0:], container)
	binary.BigEndian.PutUint64(b[8:], uint64(entryOffset))
	b[16] = fork
	return strconv.FormatUint(xxhash.Sum64(b[:]), 16)
}

// Get returns the cached decode of a fork, or nil.
func Get(key string) []byte {
	mu.Lock()
	defer mu.Unlock()
	v, ok := cache.Get(key)
	if !ok {
		return nil
	}
	return v.([]byte)
}

// Put records a fully decoded, checksum-verified fork. Oversized forks are
// dropped silently.
func Put(key string, decoded []byte) {
	if len(decoded) > MaxForkSize {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	cache.Add(key, decoded)
}
