package sitcodec

import (
	"bytes"
	"io"
	"sort"
	"testing"
)

type bitWriter struct {
	buf  []byte
	acc  uint32
	nbit int
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.acc = w.acc<<1 | v>>i&1
		w.nbit++
		if w.nbit == 8 {
			w.buf = append(w.buf, byte(w.acc))
			w.acc, w.nbit = 0, 0
		}
	}
}

func (w *bitWriter) flush() []byte {
	if w.nbit > 0 {
		w.buf = append(w.buf, byte(w.acc<<(8-w.nbit)))
		w.acc, w.nbit = 0, 0
	}
	return w.buf
}

type htNode struct {
	leaf      bool
	sym       byte
	zero, one *htNode
}

// balancedTree builds an arbitrary (balanced) code tree over the distinct
// bytes of the payload; the decoder accepts any shape.
func balancedTree(data []byte) *htNode {
	seen := make(map[byte]bool)
	var syms []byte
	for _, b := range data {
		if !seen[b] {
			seen[b] = true
			syms = append(syms, b)
		}
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
	var build func(s []byte) *htNode
	build = func(s []byte) *htNode {
		if len(s) == 1 {
			return &htNode{leaf: true, sym: s[0]}
		}
		mid := len(s) / 2
		return &htNode{zero: build(s[:mid]), one: build(s[mid:])}
	}
	return build(syms)
}

func serializeTree(n *htNode, w *bitWriter) {
	if n.leaf {
		w.writeBits(1, 1)
		w.writeBits(uint32(n.sym), 8)
		return
	}
	w.writeBits(0, 1)
	serializeTree(n.zero, w)
	serializeTree(n.one, w)
}

func treeCodes(n *htNode, prefix uint32, depth int, out *[256]struct {
	code uint32
	n    int
}) {
	if n.leaf {
		out[n.sym] = struct {
			code uint32
			n    int
		}{prefix, depth}
		return
	}
	treeCodes(n.zero, prefix<<1, depth+1, out)
	treeCodes(n.one, prefix<<1|1, depth+1, out)
}

// huffmanEncode produces a stream the method-3 decoder accepts: serialized
// tree then one code per byte.
func huffmanEncode(data []byte) []byte {
	tree := balancedTree(data)
	var w bitWriter
	serializeTree(tree, &w)
	var codes [256]struct {
		code uint32
		n    int
	}
	if tree.leaf { // degenerate single-symbol stream
		codes[tree.sym].n = 0
	} else {
		treeCodes(tree, 0, 0, &codes)
	}
	for _, b := range data {
		w.writeBits(codes[b].code, codes[b].n)
	}
	return w.flush()
}

func TestHuffmanRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"two symbols", []byte("abbaabba")},
		{"text", []byte("it was the best of times, it was the worst of times")},
		{"all byte values", func() []byte {
			var b []byte
			for i := range 256 {
				b = append(b, byte(i), byte(i))
			}
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := Huffman(bytes.NewReader(huffmanEncode(tt.in)))
			defer dec.Close()
			got := make([]byte, len(tt.in))
			if _, err := io.ReadFull(dec, got); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.in) {
				t.Fatalf("got %q want %q", got, tt.in)
			}
		})
	}
}

func TestHuffmanTruncatedTree(t *testing.T) {
	var w bitWriter
	w.writeBits(0, 1) // internal node, then nothing
	dec := Huffman(bytes.NewReader(w.flush()))
	defer dec.Close()
	_, err := io.ReadAll(dec)
	if err == nil {
		t.Fatal("want error on truncated tree")
	}
}
