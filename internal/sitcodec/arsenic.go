/*
StuffIt file archiver client

XAD library system for archive handling
Copyright (C) 1998 and later by Dirk Stoecker <soft@dstoecker.de>

little based on macutils 2.0b3 macunpack by Dik T. Winter
Copyright (C) 1992 Dik T. Winter <dik@cwi.nl>

algorithm 15 is based on the work of  Matthew T. Russotto
Copyright (C) 2002 Matthew T. Russotto <russotto@speakeasy.net>
http://www.speakeasy.org/~russotto/arseniccomp.html

ported to Go
Copyright (C) 2025 the munbox authors

This library is free software; you can redistribute it and/or
modify it under the terms of the GNU Lesser General Public
License as published by the Free Software Foundation; either
version 2.1 of the License, or (at your option) any later version.

This library is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
Lesser General Public License for more details.

You should have received a copy of the GNU Lesser General Public
License along with this library; if not, write to the Free Software
Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
*/

// The Arsenic decoder (StuffIt method 15): an adaptive arithmetic coder
// over a Burrows-Wheeler transformed, move-to-front and zero-run coded
// block stream, with optional derandomization and a trailing CRC-32 of the
// decoded data.

package sitcodec

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/dafo123/munbox/internal/bitreader"
)

// Randomization schedule: a byte counter per table entry; when it expires
// the next byte is xored with 1.
var arsenicRnd = [256]uint16{
	0xee, 0x56, 0xf8, 0xc3, 0x9d, 0x9f, 0xae, 0x2c,
	0xad, 0xcd, 0x24, 0x9d, 0xa6, 0x101, 0x18, 0xb9,
	0xa1, 0x82, 0x75, 0xe9, 0x9f, 0x55, 0x66, 0x6a,
	0x86, 0x71, 0xdc, 0x84, 0x56, 0x96, 0x56, 0xa1,
	0x84, 0x78, 0xb7, 0x32, 0x6a, 0x3, 0xe3, 0x2,
	0x11, 0x101, 0x8, 0x44, 0x83, 0x100, 0x43, 0xe3,
	0x1c, 0xf0, 0x86, 0x6a, 0x6b, 0xf, 0x3, 0x2d,
	0x86, 0x17, 0x7b, 0x10, 0xf6, 0x80, 0x78, 0x7a,
	0xa1, 0xe1, 0xef, 0x8c, 0xf6, 0x87, 0x4b, 0xa7,
	0xe2, 0x77, 0xfa, 0xb8, 0x81, 0xee, 0x77, 0xc0,
	0x9d, 0x29, 0x20, 0x27, 0x71, 0x12, 0xe0, 0x6b,
	0xd1, 0x7c, 0xa, 0x89, 0x7d, 0x87, 0xc4, 0x101,
	0xc1, 0x31, 0xaf, 0x38, 0x3, 0x68, 0x1b, 0x76,
	0x79, 0x3f, 0xdb, 0xc7, 0x1b, 0x36, 0x7b, 0xe2,
	0x63, 0x81, 0xee, 0xc, 0x63, 0x8b, 0x78, 0x38,
	0x97, 0x9b, 0xd7, 0x8f, 0xdd, 0xf2, 0xa3, 0x77,
	0x8c, 0xc3, 0x39, 0x20, 0xb3, 0x12, 0x11, 0xe,
	0x17, 0x42, 0x80, 0x2c, 0xc4, 0x92, 0x59, 0xc8,
	0xdb, 0x40, 0x76, 0x64, 0xb4, 0x55, 0x1a, 0x9e,
	0xfe, 0x5f, 0x6, 0x3c, 0x41, 0xef, 0xd4, 0xaa,
	0x98, 0x29, 0xcd, 0x1f, 0x2, 0xa8, 0x87, 0xd2,
	0xa0, 0x93, 0x98, 0xef, 0xc, 0x43, 0xed, 0x9d,
	0xc2, 0xeb, 0x81, 0xe9, 0x64, 0x23, 0x68, 0x1e,
	0x25, 0x57, 0xde, 0x9a, 0xcf, 0x7f, 0xe5, 0xba,
	0x41, 0xea, 0xea, 0x36, 0x1a, 0x28, 0x79, 0x20,
	0x5e, 0x18, 0x4e, 0x7c, 0x8e, 0x58, 0x7a, 0xef,
	0x91, 0x2, 0x93, 0xbb, 0x56, 0xa1, 0x49, 0x1b,
	0x79, 0x92, 0xf3, 0x58, 0x4f, 0x52, 0x9c, 0x2,
	0x77, 0xaf, 0x2a, 0x8f, 0x49, 0xd0, 0x99, 0x4d,
	0x98, 0x101, 0x60, 0x93, 0x100, 0x75, 0x31, 0xce,
	0x49, 0x20, 0x56, 0x57, 0xe2, 0xf5, 0x26, 0x2b,
	0x8a, 0xbf, 0xde, 0xd0, 0x83, 0x34, 0xf4, 0x17,
}

type modelsym struct {
	sym     uint16
	cumfreq uint32
}

type model struct {
	increment uint32
	maxfreq   uint32
	syms      []modelsym // entries+1; syms[0].cumfreq is the running total
}

func newModel(entries, start int, increment, maxfreq uint32) *model {
	m := &model{
		increment: increment,
		maxfreq:   maxfreq,
		syms:      make([]modelsym, entries+1),
	}
	for i := range entries {
		m.syms[i].sym = uint16(entries - i - 1 + start)
	}
	m.reinit()
	return m
}

func (m *model) reinit() {
	cumfreq := uint32(len(m.syms)-1) * m.increment
	for i := range m.syms {
		m.syms[i].cumfreq = cumfreq
		cumfreq -= m.increment
	}
}

// update bumps the frequency of every symbol above index, halving the model
// when the total overflows maxfreq.
func (m *model) update(index int) {
	for i := range index {
		m.syms[i].cumfreq += m.increment
	}
	if m.syms[0].cumfreq <= m.maxfreq {
		return
	}
	entries := len(m.syms) - 1
	for i := range entries {
		m.syms[i].cumfreq -= m.syms[i+1].cumfreq
		m.syms[i].cumfreq++
		m.syms[i].cumfreq >>= 1
	}
	for i := entries - 1; i >= 0; i-- {
		m.syms[i].cumfreq += m.syms[i+1].cumfreq
	}
}

// arsenicCoder is the 25-bit shift arithmetic decoder.
type arsenicCoder struct {
	br    *bitreader.MSB
	eof   bool // zero bits after the section ends; the coder over-reads a little
	rng   uint32
	code  uint32
	half  uint32
}

func (a *arsenicCoder) bit() uint32 {
	if a.eof {
		return 0
	}
	b, err := a.br.ReadBits(1)
	if err != nil {
		a.eof = true
		return 0
	}
	return b
}

func (a *arsenicCoder) bits(n int) uint32 {
	v := uint32(0)
	for range n {
		v = v<<1 | a.bit()
	}
	return v
}

// remove narrows the interval to [symlow, symhigh) of symtot and
// renormalizes.
func (a *arsenicCoder) remove(symhigh, symlow, symtot uint32) {
	renorm := a.rng / symtot
	lowincr := renorm * symlow
	a.code -= lowincr
	if symhigh == symtot {
		a.rng -= lowincr
	} else {
		a.rng = (symhigh - symlow) * renorm
	}
	for a.rng <= a.half {
		a.rng <<= 1
		a.code = a.code<<1 | a.bit()
	}
}

func (a *arsenicCoder) getsym(m *model) int {
	freq := a.code / (a.rng / m.syms[0].cumfreq)
	i := 1
	for ; i < len(m.syms)-1; i++ {
		if m.syms[i].cumfreq <= freq {
			break
		}
	}
	sym := int(m.syms[i-1].sym)
	a.remove(m.syms[i-1].cumfreq, m.syms[i].cumfreq, m.syms[0].cumfreq)
	m.update(i)
	return sym
}

// getbits reads an n-bit field through a binary model, low bit first.
func (a *arsenicCoder) getbits(m *model, n int) uint32 {
	addme := uint32(1)
	accum := uint32(0)
	for range n {
		if a.getsym(m) != 0 {
			accum += addme
		}
		addme += addme
	}
	return accum
}

// mtf is the move-to-front list shared across a block.
type mtf struct {
	order [256]byte
}

func (m *mtf) reset() {
	for i := range m.order {
		m.order[i] = byte(i)
	}
}

func (m *mtf) decode(sym int) byte {
	result := m.order[sym]
	copy(m.order[1:sym+1], m.order[:sym])
	m.order[0] = result
	return result
}

// unblocksort inverts the Burrows-Wheeler transform.
func unblocksort(block []byte, lastIndex uint32, out []byte) error {
	if len(block) == 0 {
		return nil
	}
	if int(lastIndex) >= len(block) {
		return ErrData
	}
	var counts, cumcounts [256]uint32
	for _, b := range block {
		counts[b]++
	}
	cum := uint32(0)
	for i := range counts {
		cumcounts[i] = cum
		cum += counts[i]
		counts[i] = 0
	}
	xform := make([]uint32, len(block))
	for i, b := range block {
		xform[cumcounts[b]+counts[b]] = uint32(i)
		counts[b]++
	}
	j := xform[lastIndex]
	for i := range out {
		out[i] = block[j]
		j = xform[j]
	}
	return nil
}

// emitBlock undoes the final RLE (four equal bytes are followed by a count
// of extra repeats) and the optional randomization, writing plain bytes out.
func emitBlock(w io.ByteWriter, block []byte, rnd bool) error {
	count, last := 0, 0
	rndindex := 0
	rndcount := int(arsenicRnd[0])
	for _, c := range block {
		ch := int(c)
		if rnd && rndcount == 0 {
			ch ^= 1
			rndindex++
			if rndindex == len(arsenicRnd) {
				rndindex = 0
			}
			rndcount = int(arsenicRnd[rndindex])
		}
		rndcount--

		if count == 4 {
			for range ch {
				if err := w.WriteByte(byte(last)); err != nil {
					return err
				}
			}
			count = 0
		} else {
			if err := w.WriteByte(byte(ch)); err != nil {
				return err
			}
			if ch != last {
				count = 0
				last = ch
			}
			count++
		}
	}
	return nil
}

// crcWriter tees decoded bytes into a running IEEE CRC-32.
type crcWriter struct {
	w   *bufio.Writer
	crc uint32
}

func (c *crcWriter) WriteByte(b byte) error {
	c.crc = crc32.IEEETable[byte(c.crc)^b] ^ c.crc>>8
	return c.w.WriteByte(b)
}

// Arsenic decodes method 15.
func Arsenic(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go arsenicCopy(pw, r)
	return pr
}

func arsenicCopy(dst *io.PipeWriter, src io.Reader) {
	var reterr error
	bw := bufio.NewWriterSize(dst, 4096)
	defer func() {
		bw.Flush()
		dst.CloseWithError(reterr)
	}()

	a := &arsenicCoder{
		br:   bitreader.NewMSB(bufio.NewReaderSize(src, 4096)),
		rng:  1 << 25,
		half: 1 << 24,
	}
	a.code = a.bits(26)

	initial := newModel(2, 0, 1, 256)
	sel := newModel(11, 0, 8, 1024)
	mtfmodels := [7]*model{
		newModel(2, 2, 8, 1024),
		newModel(4, 4, 4, 1024),
		newModel(8, 8, 4, 1024),
		newModel(0x10, 0x10, 4, 1024),
		newModel(0x20, 0x20, 2, 1024),
		newModel(0x40, 0x40, 2, 1024),
		newModel(0x80, 0x80, 1, 1024),
	}

	if a.getbits(initial, 8) != 'A' || a.getbits(initial, 8) != 's' {
		reterr = fmt.Errorf("arsenic signature: %w", ErrData)
		return
	}
	blockbits := int(a.getbits(initial, 4)) + 9
	blocksize := uint32(1) << blockbits

	block := make([]byte, 0, blocksize)
	unsorted := make([]byte, blocksize)
	var moveme mtf
	moveme.reset()
	out := &crcWriter{w: bw, crc: ^uint32(0)}

	eob := a.getsym(initial)
	for eob == 0 {
		rnd := a.getsym(initial)
		primary := a.getbits(initial, blockbits)

		block = block[:0]
		repeatstate, repeatcount := 0, 0
		stop := false
		for !stop {
			var sym int
			switch s := a.getsym(sel); s {
			case 0:
				if repeatstate == 0 {
					repeatstate, repeatcount = 1, 1
				} else {
					repeatstate += repeatstate
					repeatcount += repeatstate
				}
				sym = -1
			case 1:
				if repeatstate == 0 {
					repeatstate, repeatcount = 1, 2
				} else {
					repeatstate += repeatstate
					repeatcount += 2 * repeatstate
				}
				sym = -1
			case 2:
				sym = 1
			case 10:
				stop = true
				sym = 0
			default:
				if s < 3 || s > 9 {
					reterr = fmt.Errorf("arsenic selector: %w", ErrData)
					return
				}
				sym = a.getsym(mtfmodels[s-3])
			}

			if repeatstate != 0 && sym >= 0 {
				// flush the pending zero-run: repeatcount copies of the
				// current front-of-list byte
				if uint32(repeatcount) > blocksize {
					reterr = fmt.Errorf("arsenic run overrun: %w", ErrData)
					return
				}
				front := moveme.order[0]
				for range repeatcount {
					block = append(block, front)
				}
				repeatstate, repeatcount = 0, 0
			}
			if !stop && repeatstate == 0 {
				block = append(block, moveme.decode(sym))
			}
			if uint32(len(block)) > blocksize {
				reterr = fmt.Errorf("arsenic block overrun: %w", ErrData)
				return
			}
		}

		if err := unblocksort(block, primary, unsorted[:len(block)]); err != nil {
			reterr = fmt.Errorf("arsenic block sort: %w", err)
			return
		}
		if err := emitBlock(out, unsorted[:len(block)], rnd != 0); err != nil {
			return
		}

		eob = a.getsym(initial)
		sel.reinit()
		for _, m := range mtfmodels {
			m.reinit()
		}
		moveme.reset()
	}

	if a.getbits(initial, 32) != ^out.crc {
		reterr = fmt.Errorf("arsenic stream: %w", errChecksum)
		return
	}
}
