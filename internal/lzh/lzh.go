// Package lzh decodes the Compact Pro fork compression: an RLE-90 pre-pass
// over the stored bytes, then LZSS back-references over an 8 KiB sliding
// window with two serialized static Huffman trees, one for the combined
// literal/length alphabet and one for the high bits of match offsets.
package lzh

import (
	"bufio"
	"errors"
	"io"

	"github.com/dafo123/munbox/internal/bitreader"
	"github.com/dafo123/munbox/internal/rle90"
)

const (
	windowSize = 1 << 13 // 13-bit offsets
	windowMask = windowSize - 1

	minMatch = 3
	maxMatch = 66

	litlenSymbols = 256 + maxMatch - minMatch + 1 // literals + 64 length codes
	litlenWidth   = 9
	offsetSymbols = windowSize >> 6 // high 7 bits of a 13-bit offset
	offsetWidth   = 7
)

// ErrTree reports a malformed serialized Huffman tree.
var ErrTree = errors.New("lzh: malformed code tree")

// ErrData reports an impossible back-reference.
var ErrData = errors.New("lzh: illegal data")

type node struct {
	child [2]*node
	sym   uint16
	leaf  bool
}

// readTree parses a pre-order shape bitstream (0 = internal, 1 = leaf) and
// then the leaf symbols at a fixed width, in leaf order.
func readTree(br *bitreader.MSB, maxLeaves, symWidth int) (*node, error) {
	var leaves []*node
	var parse func(depth int) (*node, error)
	parse = func(depth int) (*node, error) {
		if depth > 2*maxLeaves {
			return nil, ErrTree
		}
		b, err := br.ReadBit()
		if err != nil {
			return nil, err
		}
		if b == 1 {
			if len(leaves) == maxLeaves {
				return nil, ErrTree
			}
			n := &node{leaf: true}
			leaves = append(leaves, n)
			return n, nil
		}
		n := &node{}
		if n.child[0], err = parse(depth + 1); err != nil {
			return nil, err
		}
		if n.child[1], err = parse(depth + 1); err != nil {
			return nil, err
		}
		return n, nil
	}
	root, err := parse(0)
	if err != nil {
		return nil, err
	}
	for _, lf := range leaves {
		v, err := br.ReadBits(symWidth)
		if err != nil {
			return nil, err
		}
		lf.sym = uint16(v)
	}
	return root, nil
}

func decodeSym(br *bitreader.MSB, root *node) (uint16, error) {
	n := root
	for !n.leaf {
		b, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		n = n.child[b]
	}
	return n.sym, nil
}

// NewReader decodes one compressed fork section of dstsize decoded bytes.
func NewReader(r io.Reader, dstsize uint32) io.ReadCloser {
	pr, pw := io.Pipe()
	go lzhCopy(pw, r, dstsize)
	return pr
}

func lzhCopy(dst *io.PipeWriter, src io.Reader, dstsize uint32) {
	var reterr error
	bw := bufio.NewWriterSize(dst, 4096)
	defer func() {
		bw.Flush()
		dst.CloseWithError(reterr)
	}()

	if dstsize == 0 {
		return
	}

	br := bitreader.NewMSB(bufio.NewReaderSize(rle90.NewReader(src), 4096))

	litlen, err := readTree(br, litlenSymbols, litlenWidth)
	if err != nil {
		reterr = err
		return
	}
	offsets, err := readTree(br, offsetSymbols, offsetWidth)
	if err != nil {
		reterr = err
		return
	}

	var window [windowSize]byte
	pos := uint32(0)

	put := func(b byte) error {
		window[pos&windowMask] = b
		pos++
		dstsize--
		return bw.WriteByte(b)
	}

	for dstsize > 0 {
		sym, err := decodeSym(br, litlen)
		if err != nil {
			reterr = err
			return
		}
		if sym < 256 {
			if err := put(byte(sym)); err != nil {
				return
			}
			continue
		}
		if sym >= litlenSymbols {
			reterr = ErrData
			return
		}
		length := uint32(sym) - 256 + minMatch
		high, err := decodeSym(br, offsets)
		if err != nil {
			reterr = err
			return
		}
		low, err := br.ReadBits(6)
		if err != nil {
			reterr = err
			return
		}
		dist := uint32(high)<<6 | low
		if dist == 0 || dist > pos {
			reterr = ErrData
			return
		}
		from := pos - dist
		for range length {
			if err := put(window[from&windowMask]); err != nil {
				return
			}
			from++
			if dstsize == 0 {
				break
			}
		}
	}
}
