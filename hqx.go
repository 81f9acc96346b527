package munbox

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dafo123/munbox/internal/crc16"
	"github.com/dafo123/munbox/internal/rle90"
)

// BinHex 4.0 frames a binary payload in 7-bit ASCII: a marker line, then a
// ':'-delimited body of 6-bit characters, RLE-90 compressed underneath.

const hqxMarker = "(This file must be converted with BinHex 4.0)"

const hqxAlphabet = "!\"#$%&'()*+,-012345689@ABCDEFGHIJKLMNPQRSTUVXYZ[`abcdefhijklmpqr"

// How far into the stream the marker line may start. Mailers prepend
// headers, but not kilobytes of them.
const hqxDetectWindow = 8192

var hqxReverse [256]int8

func init() {
	for i := range hqxReverse {
		hqxReverse[i] = -1
	}
	for i, c := range []byte(hqxAlphabet) {
		hqxReverse[c] = int8(i)
	}
}

type hqxHeader struct {
	name    string
	version uint8
	typ     [4]byte
	creator [4]byte
	flags   uint16
	dlen    uint32
	rlen    uint32
}

type hqxLayer struct {
	src *peekLayer
	dec io.Reader // rle90 over the 6-bit body
	hdr hqxHeader

	fork   int // -1 before Open(First), 0 data, 1 resource, 2 exhausted
	fresh  bool
	remain uint32
	crc    uint16
	ended  bool // current fork read through its trailing CRC
	err    error
	closed bool
}

// NewHQX wraps inner in a BinHex 4.0 decoder. Returns ErrFormat when no
// marker line is found near the head of the stream.
func NewHQX(inner Layer) (Layer, error) {
	src := asPeek(inner)
	head, err := src.Peek(hqxDetectWindow)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(head, []byte(hqxMarker)) {
		return nil, ErrFormat
	}

	l := &hqxLayer{src: src, fork: -1}
	if err := l.start(); err != nil {
		return nil, err
	}
	l.fresh = true
	return l, nil
}

// start builds the decode chain from the head of the source fork and parses
// the payload header.
func (l *hqxLayer) start() error {
	l.dec = rle90.NewReader(newSixbitReader(l.src))

	var fixed [1]byte
	if _, err := io.ReadFull(l.dec, fixed[:]); err != nil {
		return l.fail(err)
	}
	nameLen := int(fixed[0])
	buf := make([]byte, nameLen+21) // name + version..resource length + CRC
	if _, err := io.ReadFull(l.dec, buf); err != nil {
		return l.fail(err)
	}

	crc := crc16.Update(crc16.Update(0, fixed[:]), buf[:nameLen+19])
	if crc != binary.BigEndian.Uint16(buf[nameLen+19:]) {
		l.err = fmt.Errorf("hqx: header %w", ErrChecksum)
		return l.err
	}

	l.hdr = hqxHeader{
		name:    macName(buf[:nameLen]),
		version: buf[nameLen],
		flags:   binary.BigEndian.Uint16(buf[nameLen+9:]),
		dlen:    binary.BigEndian.Uint32(buf[nameLen+11:]),
		rlen:    binary.BigEndian.Uint32(buf[nameLen+15:]),
	}
	copy(l.hdr.typ[:], buf[nameLen+1:])
	copy(l.hdr.creator[:], buf[nameLen+5:])
	return nil
}

func (l *hqxLayer) info() *FileInfo {
	info := &FileInfo{
		Name:        l.hdr.name,
		Type:        l.hdr.typ,
		Creator:     l.hdr.creator,
		FinderFlags: l.hdr.flags,
		Fork:        ForkData,
		Length:      l.hdr.dlen,
		HasMetadata: true,
	}
	if l.fork == 1 {
		info.Fork = ForkResource
		info.Length = l.hdr.rlen
	}
	return info
}

func (l *hqxLayer) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	switch which {
	case First:
		if !l.fresh {
			if _, err := l.src.Open(First); err != nil {
				return nil, l.fail(err)
			}
			if err := l.start(); err != nil {
				return nil, err
			}
		}
		l.fresh = false
		l.fork, l.remain, l.crc, l.ended = 0, l.hdr.dlen, 0, false
		return l.info(), nil
	default:
		switch l.fork {
		case -1:
			l.err = fmt.Errorf("hqx: %w", ErrUsage)
			return nil, l.err
		case 0:
			if err := l.finishFork(); err != nil {
				return nil, err
			}
			if l.hdr.rlen == 0 {
				l.fork = 2
				return nil, io.EOF
			}
			l.fork, l.remain, l.crc, l.ended = 1, l.hdr.rlen, 0, false
			return l.info(), nil
		case 1:
			if err := l.finishFork(); err != nil {
				return nil, err
			}
			l.fork = 2
			return nil, io.EOF
		default:
			return nil, io.EOF
		}
	}
}

// finishFork drains the rest of the open fork and checks its trailing CRC.
func (l *hqxLayer) finishFork() error {
	var scratch [512]byte
	for l.remain > 0 {
		n := uint32(len(scratch))
		if l.remain < n {
			n = l.remain
		}
		if _, err := l.Read(scratch[:n]); err != nil {
			return err
		}
	}
	return l.checkForkCRC()
}

func (l *hqxLayer) checkForkCRC() error {
	if l.ended {
		return nil
	}
	var stored [2]byte
	if _, err := io.ReadFull(l.dec, stored[:]); err != nil {
		return l.fail(err)
	}
	if l.crc != binary.BigEndian.Uint16(stored[:]) {
		l.err = fmt.Errorf("hqx: %s fork %w", ForkType(l.fork), ErrChecksum)
		return l.err
	}
	l.ended = true
	return nil
}

func (l *hqxLayer) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.fork < 0 || l.fork > 1 {
		l.err = fmt.Errorf("hqx: %w", ErrUsage)
		return 0, l.err
	}
	if l.remain == 0 {
		if err := l.checkForkCRC(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	if uint32(len(p)) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.dec.Read(p)
	l.crc = crc16.Update(l.crc, p[:n])
	l.remain -= uint32(n)
	if err != nil {
		return n, l.fail(err)
	}
	return n, nil
}

func (l *hqxLayer) fail(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrTruncated
	}
	l.err = fmt.Errorf("hqx: %w", err)
	return l.err
}

func (l *hqxLayer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.src.Close()
}

// sixbitReader maps the ':'-delimited BinHex body back to 8-bit bytes:
// locate the marker, skip to the opening ':', then 6 bits per alphabet
// character until the closing ':'. CR, LF and spaces are dropped.
type sixbitReader struct {
	r    *bufio.Reader
	acc  uint32
	nbit int
	body bool
	done bool
	err  error
}

func newSixbitReader(r io.Reader) *sixbitReader {
	return &sixbitReader{r: bufio.NewReader(r)}
}

// seekBody positions the reader just after the ':' that opens the body.
func (s *sixbitReader) seekBody() error {
	var window []byte
	marker := []byte(hqxMarker)
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("missing marker line: %w", ErrCorrupt)
			}
			return err
		}
		window = append(window, c)
		if len(window) > len(marker) {
			window = window[1:]
		}
		if bytes.Equal(window, marker) {
			break
		}
	}
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("body never opened: %w", ErrCorrupt)
			}
			return err
		}
		if c == ':' {
			s.body = true
			return nil
		}
	}
}

func (s *sixbitReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if !s.body {
		if err := s.seekBody(); err != nil {
			s.err = err
			return 0, err
		}
	}
	n := 0
	for n < len(p) {
		if s.nbit >= 8 {
			p[n] = byte(s.acc >> (s.nbit - 8))
			s.nbit -= 8
			n++
			continue
		}
		if s.done {
			s.err = io.EOF
			break
		}
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("unterminated body: %w", ErrCorrupt)
			}
			s.err = err
			break
		}
		switch c {
		case '\r', '\n', ' ':
			continue
		case ':':
			s.done = true // trailing partial bits are padding
			continue
		}
		v := hqxReverse[c]
		if v < 0 {
			s.err = fmt.Errorf("byte %#02x outside alphabet: %w", c, ErrCorrupt)
			break
		}
		s.acc = s.acc<<6 | uint32(v)
		s.nbit += 6
	}
	if n > 0 && s.err == io.EOF {
		return n, nil
	}
	return n, s.err
}
