package munbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/dafo123/munbox/internal/crc16"
	"github.com/dafo123/munbox/internal/forkcache"
	"github.com/dafo123/munbox/internal/rle90"
	"github.com/dafo123/munbox/internal/sitcodec"
)

// StuffIt classic (v1): 22-byte archive header, then a walk of 112-byte
// record headers. Method byte 32 opens a folder, 33 closes it; files carry
// both forks' compressed bytes immediately after the record, resource fork
// first.

const (
	sitArchiveHeader = 22
	sitRecordHeader  = 112

	sitFolderStart = 32
	sitFolderEnd   = 33
	sitProtected   = 16 // flag bit on the resource method byte
)

// sitEntry is one file of the archive with both fork sections buffered.
type sitEntry struct {
	name     string
	typ      [4]byte
	creator  [4]byte
	flags    uint16
	modtime  time.Time
	offset   int64 // record offset, used as the cache identity
	method   [2]uint8
	unpacked [2]uint32
	crc      [2]uint16
	raw      [2][]byte // compressed fork bytes, indexed by ForkType
}

// openFork is the currently streaming fork of an archive layer.
type openFork struct {
	dec       io.Reader
	closer    io.Closer
	remain    uint32
	crc       uint16
	wantCRC   uint16
	fromCache bool
	cacheKey  string
	cacheBuf  []byte // non-nil while the decode is worth keeping
}

type sitLayer struct {
	src     *peekLayer
	cacheID uint64
	pos     int64
	dirs    []string
	cur     *sitEntry
	pending []ForkType
	fork    *openFork
	tag     string
	fresh   bool
	opened  bool
	err     error
	closed  bool
}

// NewSit wraps inner in a StuffIt classic archive reader.
func NewSit(inner Layer) (Layer, error) {
	src := asPeek(inner)
	head, err := src.Peek(14)
	if err != nil {
		return nil, err
	}
	if len(head) < 14 || string(head[:4]) != "SIT!" || string(head[10:14]) != "rLau" {
		return nil, ErrFormat
	}
	l := &sitLayer{src: src, cacheID: forkcache.NewID(), tag: "sit", fresh: true}
	if err := l.discardN(sitArchiveHeader); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *sitLayer) readFull(p []byte) error {
	n, err := io.ReadFull(readerOnly{l.src}, p)
	l.pos += int64(n)
	return err
}

func (l *sitLayer) discardN(n int64) error {
	m, err := io.CopyN(io.Discard, readerOnly{l.src}, n)
	l.pos += m
	return err
}

func (l *sitLayer) fail(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = ErrTruncated
	}
	l.err = fmt.Errorf("%s: %w", l.tag, err)
	return l.err
}

func (l *sitLayer) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	if which == First {
		if !l.fresh {
			if _, err := l.src.Open(First); err != nil {
				return nil, l.fail(err)
			}
			l.pos = 0
			if err := l.discardN(sitArchiveHeader); err != nil {
				return nil, l.fail(err)
			}
		}
		l.dirs, l.cur, l.pending = nil, nil, nil
		l.dropFork()
	}
	l.fresh = false
	l.opened = true
	return l.advance()
}

// advance positions at the next (file, fork) pair of the flat cursor.
func (l *sitLayer) advance() (*FileInfo, error) {
	l.dropFork()
	for len(l.pending) == 0 {
		if err := l.nextRecord(); err != nil {
			return nil, err
		}
	}
	fork := l.pending[0]
	l.pending = l.pending[1:]
	if err := l.startFork(fork); err != nil {
		return nil, err
	}
	return l.info(fork), nil
}

// nextRecord consumes one 112-byte record, maintaining the folder stack and
// loading file entries; io.EOF here is the normal end of the archive.
func (l *sitLayer) nextRecord() error {
	var hdr [sitRecordHeader]byte
	recordOffset := l.pos
	err := l.readFull(hdr[:])
	if err == io.EOF {
		return io.EOF
	} else if err != nil {
		return l.fail(err)
	}

	switch {
	case hdr[0] == sitFolderEnd:
		if len(l.dirs) == 0 {
			return l.fail(fmt.Errorf("folder end without start: %w", ErrCorrupt))
		}
		l.dirs = l.dirs[:len(l.dirs)-1]
		return nil
	case hdr[0] > sitFolderEnd:
		return l.fail(fmt.Errorf("record type %d: %w", hdr[0], ErrCorrupt))
	}

	if crc16.Checksum(hdr[:110]) != binary.BigEndian.Uint16(hdr[110:]) {
		return l.fail(fmt.Errorf("record header %w", ErrChecksum))
	}

	nameLen := int(hdr[2])
	if nameLen > 63 {
		nameLen = 63
	}
	name := macName(hdr[3 : 3+nameLen])

	if hdr[0] == sitFolderStart {
		l.dirs = append(l.dirs, name)
		return nil
	}

	if hdr[0]&sitProtected != 0 {
		return l.fail(fmt.Errorf("%q: %w", name, ErrPassword))
	}

	e := &sitEntry{
		name:    path.Join(append(append([]string{}, l.dirs...), name)...),
		flags:   binary.BigEndian.Uint16(hdr[74:]),
		modtime: macTime(binary.BigEndian.Uint32(hdr[80:])),
		offset:  recordOffset,
	}
	copy(e.typ[:], hdr[66:])
	copy(e.creator[:], hdr[70:])
	e.method[ForkResource] = hdr[0] & 0x0f
	e.method[ForkData] = hdr[1] & 0x0f
	e.unpacked[ForkResource] = binary.BigEndian.Uint32(hdr[84:])
	e.unpacked[ForkData] = binary.BigEndian.Uint32(hdr[88:])
	rpacked := binary.BigEndian.Uint32(hdr[92:])
	dpacked := binary.BigEndian.Uint32(hdr[96:])
	e.crc[ForkResource] = binary.BigEndian.Uint16(hdr[100:])
	e.crc[ForkData] = binary.BigEndian.Uint16(hdr[102:])

	// Resource fork bytes precede data fork bytes on disk; emission order
	// is the reverse, so both sections are buffered here.
	e.raw[ForkResource] = make([]byte, rpacked)
	if err := l.readFull(e.raw[ForkResource]); err != nil {
		return l.fail(err)
	}
	e.raw[ForkData] = make([]byte, dpacked)
	if err := l.readFull(e.raw[ForkData]); err != nil {
		return l.fail(err)
	}

	l.cur = e
	if dpacked > 0 || rpacked == 0 {
		l.pending = append(l.pending, ForkData)
	}
	if rpacked > 0 {
		l.pending = append(l.pending, ForkResource)
	}
	return nil
}

// sitForkReader builds the decode chain for one compressed fork section.
func sitForkReader(method uint8, raw []byte, unpacked uint32) (io.Reader, io.Closer, error) {
	src := bytes.NewReader(raw)
	switch method {
	case 0:
		return src, nil, nil
	case 1:
		return rle90.NewReader(src), nil, nil
	case 2:
		rc := sitcodec.LZW(src, unpacked)
		return rc, rc, nil
	case 3:
		rc := sitcodec.Huffman(src)
		return rle90.NewReader(rc), rc, nil
	case 15:
		rc := sitcodec.Arsenic(src)
		return rc, rc, nil
	default:
		return nil, nil, fmt.Errorf("method %d: %w", method, ErrUnsupported)
	}
}

func (l *sitLayer) startFork(fork ForkType) error {
	e := l.cur
	key := forkcache.Key(l.cacheID, e.offset, uint8(fork))
	f := &openFork{
		remain:   e.unpacked[fork],
		wantCRC:  e.crc[fork],
		cacheKey: key,
	}
	if cached := forkcache.Get(key); cached != nil && uint32(len(cached)) == f.remain {
		f.dec = bytes.NewReader(cached)
		f.fromCache = true
		l.fork = f
		return nil
	}
	dec, closer, err := sitForkReader(e.method[fork], e.raw[fork], e.unpacked[fork])
	if err != nil {
		return l.fail(err)
	}
	f.dec, f.closer = dec, closer
	if f.remain <= forkcache.MaxForkSize {
		f.cacheBuf = make([]byte, 0, f.remain)
	}
	l.fork = f
	return nil
}

func (l *sitLayer) info(fork ForkType) *FileInfo {
	e := l.cur
	return &FileInfo{
		Name:        e.name,
		Type:        e.typ,
		Creator:     e.creator,
		FinderFlags: e.flags,
		Fork:        fork,
		Length:      e.unpacked[fork],
		ModTime:     e.modtime,
		HasMetadata: true,
	}
}

func (l *sitLayer) Read(p []byte) (int, error) {
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

// finishFork validates a fully streamed fork and feeds the cache.
func (l *sitLayer) finishFork() error {
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

func (l *sitLayer) dropFork() {
	if l.fork != nil && l.fork.closer != nil {
		l.fork.closer.Close()
	}
	l.fork = nil
}

func (l *sitLayer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.dropFork()
	return l.src.Close()
}
