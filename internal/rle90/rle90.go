// Package rle90 decodes the Mac-era run-length scheme shared by BinHex,
// StuffIt and Compact Pro: 0x90 introduces a repeat count of the previous
// byte. Count 0 is a literal 0x90; count N >= 1 repeats the previous byte
// N-1 additional times. A 0x90 with no preceding byte is malformed.
package rle90

import (
	"bufio"
	"errors"
	"io"
)

const escape = 0x90

// ErrLeadingEscape reports a repeat marker at stream start.
var ErrLeadingEscape = errors.New("rle90: repeat marker with no preceding byte")

type reader struct {
	r       io.ByteReader
	last    byte
	haveRun bool // a byte has been emitted, runs are legal
	repeat  int
	err     error
}

// NewReader returns a reader yielding the decoded form of r.
func NewReader(r io.Reader) io.Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &reader{r: br}
}

func (d *reader) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	n := 0
	for n < len(p) {
		if d.repeat > 0 {
			p[n] = d.last
			d.repeat--
			n++
			continue
		}
		c, err := d.r.ReadByte()
		if err != nil {
			d.err = err
			break
		}
		if c != escape {
			d.last = c
			d.haveRun = true
			p[n] = c
			n++
			continue
		}
		count, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			d.err = err
			break
		}
		if count == 0 { // literal 0x90
			d.last = escape
			d.haveRun = true
			p[n] = escape
			n++
			continue
		}
		if !d.haveRun {
			d.err = ErrLeadingEscape
			break
		}
		d.repeat = int(count) - 1
	}
	if n > 0 && d.err == io.EOF {
		return n, nil
	}
	return n, d.err
}
