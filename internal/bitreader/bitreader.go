// Package bitreader pulls bit fields out of a byte stream in either bit
// order. MSB first is the order of the StuffIt Huffman/Arsenic streams and
// the Compact Pro LZH stream; LSB first is the order of the LZW (Unix
// compress) code stream. Reads up to 24 bits wide.
package bitreader

import (
	"bufio"
	"io"
)

type reader struct {
	r    io.ByteReader
	bbuf uint32
	nbit int
}

func byteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// MSB reads bit fields most-significant-bit first.
type MSB struct{ reader }

func NewMSB(r io.Reader) *MSB {
	return &MSB{reader{r: byteReader(r)}}
}

// ReadBits returns the next n bits, 0 < n <= 24, high bit first.
func (b *MSB) ReadBits(n int) (uint32, error) {
	for b.nbit < n {
		c, err := b.r.ReadByte()
		if err != nil {
			if err == io.EOF && b.nbit > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		b.bbuf = b.bbuf<<8 | uint32(c)
		b.nbit += 8
	}
	v := b.bbuf >> (b.nbit - n) & (1<<n - 1)
	b.nbit -= n
	return v, nil
}

// ReadBit is ReadBits(1) returned as an int for tree walks.
func (b *MSB) ReadBit() (int, error) {
	v, err := b.ReadBits(1)
	return int(v), err
}

// Align discards bits up to the next byte boundary.
func (b *MSB) Align() {
	b.nbit -= b.nbit % 8
}

// LSB reads bit fields least-significant-bit first.
type LSB struct{ reader }

func NewLSB(r io.Reader) *LSB {
	return &LSB{reader{r: byteReader(r)}}
}

// ReadBits returns the next n bits, 0 < n <= 24, low bit first.
func (b *LSB) ReadBits(n int) (uint32, error) {
	for b.nbit < n {
		c, err := b.r.ReadByte()
		if err != nil {
			if err == io.EOF && b.nbit > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		b.bbuf |= uint32(c) << b.nbit
		b.nbit += 8
	}
	v := b.bbuf & (1<<n - 1)
	b.bbuf >>= n
	b.nbit -= n
	return v, nil
}
