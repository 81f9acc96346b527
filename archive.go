package munbox

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dafo123/munbox/internal/crc16"
	"github.com/dafo123/munbox/internal/forkcache"
)

// memArchive drives containers whose directory requires random access
// (SIT5, Compact Pro): the inner fork is slurped into memory once, the
// parser flattens it into entries, and the layer walks the (file, fork)
// pairs decoding on demand.

type archFork struct {
	fork     ForkType
	method   uint8
	raw      []byte
	unpacked uint32
	crc      uint16
}

type archEntry struct {
	name     string
	typ      [4]byte
	creator  [4]byte
	flags    uint16
	modtime  time.Time
	password bool
	offset   int64 // directory offset, used as the cache identity
	forks    []archFork
}

type memArchive struct {
	tag     string
	src     *peekLayer
	cacheID uint64
	entries []archEntry
	idx     int // entry cursor
	fidx    int // fork cursor within the entry
	fork    *openFork
	decoder func(method uint8, raw []byte, unpacked uint32) (io.Reader, io.Closer, error)
	opened  bool
	err     error
	closed  bool
}

// slurp reads the remainder of the current fork of src into memory.
func slurp(src *peekLayer) ([]byte, error) {
	if _, err := src.ensureOpen(); err != nil {
		return nil, err
	}
	return io.ReadAll(readerOnly{src})
}

func (l *memArchive) fail(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = ErrTruncated
	}
	l.err = fmt.Errorf("%s: %w", l.tag, err)
	return l.err
}

func (l *memArchive) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.dropFork()
	if which == First || !l.opened {
		l.idx, l.fidx = 0, 0
	} else {
		l.fidx++
	}
	l.opened = true
	for l.idx < len(l.entries) {
		e := &l.entries[l.idx]
		if l.fidx < len(e.forks) {
			if e.password {
				return nil, l.fail(fmt.Errorf("%q: %w", e.name, ErrPassword))
			}
			if err := l.startFork(e, l.fidx); err != nil {
				return nil, err
			}
			return l.info(e, &e.forks[l.fidx]), nil
		}
		l.idx++
		l.fidx = 0
	}
	return nil, io.EOF
}

func (l *memArchive) startFork(e *archEntry, fidx int) error {
	f := &e.forks[fidx]
	key := forkcache.Key(l.cacheID, e.offset, uint8(f.fork))
	of := &openFork{
		remain:   f.unpacked,
		wantCRC:  f.crc,
		cacheKey: key,
	}
	if cached := forkcache.Get(key); cached != nil && uint32(len(cached)) == of.remain {
		of.dec = bytes.NewReader(cached)
		of.fromCache = true
		l.fork = of
		return nil
	}
	dec, closer, err := l.decoder(f.method, f.raw, f.unpacked)
	if err != nil {
		return l.fail(err)
	}
	of.dec, of.closer = dec, closer
	if of.remain <= forkcache.MaxForkSize {
		of.cacheBuf = make([]byte, 0, of.remain)
	}
	l.fork = of
	return nil
}

func (l *memArchive) info(e *archEntry, f *archFork) *FileInfo {
	return &FileInfo{
		Name:        e.name,
		Type:        e.typ,
		Creator:     e.creator,
		FinderFlags: e.flags,
		Fork:        f.fork,
		Length:      f.unpacked,
		ModTime:     e.modtime,
		HasMetadata: true,
	}
}

func (l *memArchive) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if !l.opened || l.fork == nil {
		l.err = fmt.Errorf("%s: %w", l.tag, ErrUsage)
		return 0, l.err
	}
	f := l.fork
	if f.remain == 0 {
		if err := l.finishFork(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	if uint32(len(p)) > f.remain {
		p = p[:f.remain]
	}
	n, err := f.dec.Read(p)
	f.remain -= uint32(n)
	if !f.fromCache {
		f.crc = crc16.Update(f.crc, p[:n])
		if f.cacheBuf != nil {
			f.cacheBuf = append(f.cacheBuf, p[:n]...)
		}
	}
	if err == io.EOF && f.remain > 0 {
		return n, l.fail(fmt.Errorf("fork short by %d bytes: %w", f.remain, ErrTruncated))
	} else if err != nil && err != io.EOF {
		return n, l.fail(err)
	}
	return n, nil
}

func (l *memArchive) finishFork() error {
	f := l.fork
	if f == nil || f.remain != 0 {
		return nil
	}
	if !f.fromCache {
		if f.crc != f.wantCRC {
			return l.fail(fmt.Errorf("fork %w", ErrChecksum))
		}
		if f.cacheBuf != nil {
			forkcache.Put(f.cacheKey, f.cacheBuf)
			f.cacheBuf = nil
		}
	}
	return nil
}

func (l *memArchive) dropFork() {
	if l.fork != nil && l.fork.closer != nil {
		l.fork.closer.Close()
	}
	l.fork = nil
}

func (l *memArchive) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.dropFork()
	return l.src.Close()
}
