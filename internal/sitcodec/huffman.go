/*
StuffIt file archiver client

XAD library system for archive handling
Copyright (C) 1998 and later by Dirk Stoecker <soft@dstoecker.de>

little based on macutils 2.0b3 macunpack by Dik T. Winter
Copyright (C) 1992 Dik T. Winter <dik@cwi.nl>

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

package sitcodec

import (
	"bufio"
	"io"

	"github.com/dafo123/munbox/internal/bitreader"
)

// Huffman decodes method 3: a serialized code tree (bit 0 = internal node,
// bit 1 = leaf followed by its 8-bit symbol) and then one code per output
// byte until the compressed section is exhausted. The decoded stream is
// RLE-90 data; the caller chains the un-RLE pass.
func Huffman(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go huffmanCopy(pw, r)
	return pr
}

// Nodes are allocated in pre-order, so an internal node's zero child is
// always the next node. The one child is backpatched when the zero subtree
// completes: 0 marks it unassigned (node 0 is the root and can never be a
// child), -1 marks a leaf.
type huffNode struct {
	one, zero int
	sym       byte
}

// treeErr upgrades EOF inside the serialized tree: a section can end during
// the code stream, never during the tree.
func treeErr(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func huffmanCopy(dst *io.PipeWriter, src io.Reader) {
	var reterr error
	bw := bufio.NewWriterSize(dst, 4096)
	defer func() {
		bw.Flush()
		dst.CloseWithError(reterr)
	}()

	br := bitreader.NewMSB(bufio.NewReaderSize(src, 4096))

	// 515 because StuffIt Classic writes a few more nodes than the 511 a
	// 256-leaf tree needs.
	nodelist := make([]huffNode, 515)
	numfreetree := 0 // internal nodes whose one branch is still open
	np, npb := 0, 0

	for {
		for { // descend along zero branches until a leaf closes the path
			np = npb
			npb++
			if npb > len(nodelist) {
				reterr = ErrData
				return
			}
			b, err := br.ReadBit()
			if err != nil {
				reterr = treeErr(err)
				return
			}
			if b == 1 {
				v, err := br.ReadBits(8)
				if err != nil {
					reterr = treeErr(err)
					return
				}
				nodelist[np].sym = byte(v)
				nodelist[np].zero, nodelist[np].one = -1, -1
				break
			}
			nodelist[np].zero = npb
			numfreetree++
		}
		numfreetree--
		if numfreetree < 0 {
			break // the root's subtree is complete
		}
		// the next node belongs on the deepest open one branch
		for nodelist[np].one != 0 {
			np--
		}
		nodelist[np].one = npb
	}

	for {
		np = 0
		for nodelist[np].zero != -1 {
			b, err := br.ReadBit()
			if err != nil {
				if np == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
					err = nil // ran off the end of the section: done
				}
				reterr = err
				return
			}
			if b == 1 {
				np = nodelist[np].one
			} else {
				np = nodelist[np].zero
			}
		}
		if err := bw.WriteByte(nodelist[np].sym); err != nil {
			return
		}
	}
}
