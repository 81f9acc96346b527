package munbox

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/dafo123/munbox/internal/crc16"
)

// MacBinary: a 128-byte header, the data fork padded to a 128-byte boundary,
// then the resource fork padded likewise. MacBinary II/III sign the header
// with a CRC at bytes 124-125; MacBinary I is recognized by its zero bytes
// and plausible length fields.

const binBlock = 128

type binHeader struct {
	name    string
	typ     [4]byte
	creator [4]byte
	flags   uint16
	dlen    uint32
	rlen    uint32
	modtime time.Time
}

func parseBinHeader(hdr []byte) (*binHeader, bool) {
	if len(hdr) < binBlock {
		return nil, false
	}
	nameLen := int(hdr[1])
	if hdr[0] != 0 || nameLen < 1 || nameLen > 63 {
		return nil, false
	}
	if hdr[74] != 0 || hdr[82] != 0 {
		return nil, false
	}
	dlen := binary.BigEndian.Uint32(hdr[83:])
	rlen := binary.BigEndian.Uint32(hdr[87:])

	if crc16.Checksum(hdr[:124]) != binary.BigEndian.Uint16(hdr[124:]) {
		// MacBinary I: no CRC; insist on the reserved tail being zero and
		// the fork lengths being sane for the era.
		for _, b := range hdr[101:126] {
			if b != 0 {
				return nil, false
			}
		}
		if dlen >= 1<<23 || rlen >= 1<<23 {
			return nil, false
		}
	}

	h := &binHeader{
		name:  macName(hdr[2 : 2+nameLen]),
		flags: uint16(hdr[73])<<8 | uint16(hdr[101]),
		dlen:  dlen,
		rlen:  rlen,
	}
	copy(h.typ[:], hdr[65:])
	copy(h.creator[:], hdr[69:])
	h.modtime = macTime(binary.BigEndian.Uint32(hdr[95:]))
	return h, true
}

// macTime converts seconds since the classic Mac epoch (1904-01-01).
func macTime(t uint32) time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t)-2082844800, 0).UTC()
}

type binLayer struct {
	src    *peekLayer
	hdr    *binHeader
	fork   int // -1 before Open(First), 0 data, 1 resource, 2 exhausted
	remain uint32
	pad    uint32 // padding after the current fork
	err    error
	closed bool
}

// NewBin wraps inner in a MacBinary decoder.
func NewBin(inner Layer) (Layer, error) {
	src := asPeek(inner)
	head, err := src.Peek(binBlock)
	if err != nil {
		return nil, err
	}
	hdr, ok := parseBinHeader(head)
	if !ok {
		return nil, ErrFormat
	}
	l := &binLayer{src: src, hdr: hdr, fork: -1}
	if err := l.discard(binBlock); err != nil {
		return nil, err
	}
	return l, nil
}

func pad128(n uint32) uint32 {
	if n%binBlock == 0 {
		return 0
	}
	return binBlock - n%binBlock
}

func (l *binLayer) discard(n uint32) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, readerOnly{l.src}, int64(n)); err != nil {
		return l.fail(err)
	}
	return nil
}

func (l *binLayer) info() *FileInfo {
	info := &FileInfo{
		Name:        l.hdr.name,
		Type:        l.hdr.typ,
		Creator:     l.hdr.creator,
		FinderFlags: l.hdr.flags,
		Fork:        ForkData,
		Length:      l.hdr.dlen,
		ModTime:     l.hdr.modtime,
		HasMetadata: true,
	}
	if l.fork == 1 {
		info.Fork = ForkResource
		info.Length = l.hdr.rlen
	}
	return info
}

func (l *binLayer) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	switch which {
	case First:
		if l.fork != -1 {
			if _, err := l.src.Open(First); err != nil {
				return nil, l.fail(err)
			}
			if err := l.discard(binBlock); err != nil {
				return nil, err
			}
		}
		l.fork, l.remain, l.pad = 0, l.hdr.dlen, pad128(l.hdr.dlen)
		return l.info(), nil
	default:
		switch l.fork {
		case -1:
			l.err = fmt.Errorf("macbinary: %w", ErrUsage)
			return nil, l.err
		case 0:
			if err := l.discard(l.remain + l.pad); err != nil {
				return nil, err
			}
			if l.hdr.rlen == 0 {
				l.fork = 2
				return nil, io.EOF
			}
			l.fork, l.remain, l.pad = 1, l.hdr.rlen, pad128(l.hdr.rlen)
			return l.info(), nil
		default:
			l.fork = 2
			return nil, io.EOF
		}
	}
}

func (l *binLayer) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.fork < 0 || l.fork > 1 {
		l.err = fmt.Errorf("macbinary: %w", ErrUsage)
		return 0, l.err
	}
	if l.remain == 0 {
		return 0, io.EOF
	}
	if uint32(len(p)) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.src.Read(p)
	l.remain -= uint32(n)
	if err == io.EOF && l.remain > 0 {
		return n, l.fail(io.ErrUnexpectedEOF)
	} else if err != nil && err != io.EOF {
		return n, l.fail(err)
	}
	return n, nil
}

func (l *binLayer) fail(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrTruncated
	}
	l.err = fmt.Errorf("macbinary: %w", err)
	return l.err
}

func (l *binLayer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.src.Close()
}

// readerOnly hides everything but Read so io.CopyN cannot shortcut through
// other interfaces of a layer.
type readerOnly struct{ r io.Reader }

func (r readerOnly) Read(p []byte) (int, error) { return r.r.Read(p) }
