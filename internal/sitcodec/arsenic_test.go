package sitcodec

import (
	"bytes"
	"sort"
	"testing"
)

// bwt computes a Burrows-Wheeler transform by brute force: sort all
// rotations, return the last column and the row holding the original.
func bwt(in []byte) ([]byte, uint32) {
	n := len(in)
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	rot := func(start, k int) byte { return in[(start+k)%n] }
	sort.SliceStable(rows, func(a, b int) bool {
		for k := range n {
			ca, cb := rot(rows[a], k), rot(rows[b], k)
			if ca != cb {
				return ca < cb
			}
		}
		return false
	})
	out := make([]byte, n)
	var primary uint32
	for i, r := range rows {
		out[i] = rot(r, n-1)
		if r == 0 {
			primary = uint32(i)
		}
	}
	return out, primary
}

func TestUnblocksort(t *testing.T) {
	tests := [][]byte{
		[]byte("banana"),
		[]byte("abracadabra abracadabra"),
		[]byte{5},
		append(bytes.Repeat([]byte("mississippi."), 20), '#'), // primitive, rotations all distinct
	}
	for _, want := range tests {
		block, primary := bwt(want)
		got := make([]byte, len(want))
		if err := unblocksort(block, primary, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%q: got %q", want, got)
		}
	}
}

func TestUnblocksortBadIndex(t *testing.T) {
	if err := unblocksort([]byte("abc"), 3, make([]byte, 3)); err != ErrData {
		t.Fatalf("want ErrData, got %v", err)
	}
}

func TestMTF(t *testing.T) {
	var m mtf
	m.reset()
	// fresh list is identity, then decoded symbols move to the front
	if got := m.decode(5); got != 5 {
		t.Fatalf("got %d", got)
	}
	if got := m.decode(0); got != 5 { // front is now 5
		t.Fatalf("got %d", got)
	}
	if got := m.decode(1); got != 0 { // 0 was pushed to slot 1
		t.Fatalf("got %d", got)
	}
	m.reset()
	if got := m.decode(255); got != 255 {
		t.Fatalf("got %d", got)
	}
}

func TestEmitBlockRunLength(t *testing.T) {
	// a 5th equal byte is a count of extra repeats
	var out bytes.Buffer
	w := &countingByteWriter{&out}
	in := []byte{'a', 'a', 'a', 'a', 3, 'b'}
	if err := emitBlock(w, in, false); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "aaaaaaab" {
		t.Fatalf("got %q", got)
	}
}

func TestEmitBlockZeroCount(t *testing.T) {
	var out bytes.Buffer
	in := []byte{'x', 'x', 'x', 'x', 0, 'y'}
	if err := emitBlock(&countingByteWriter{&out}, in, false); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "xxxxy" {
		t.Fatalf("got %q", got)
	}
}

func TestEmitBlockDerandomize(t *testing.T) {
	in := make([]byte, 300)
	for i := range in {
		in[i] = byte(i) // no 4-runs, so the RLE stage passes bytes through
	}
	var out bytes.Buffer
	if err := emitBlock(&countingByteWriter{&out}, in, true); err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 300)
	copy(want, in)
	want[238] ^= 1 // first randomization counter expires after 0xee bytes
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatal("derandomization did not flip the expected byte")
	}
}

type countingByteWriter struct{ b *bytes.Buffer }

func (w *countingByteWriter) WriteByte(c byte) error { return w.b.WriteByte(c) }

func TestModelAdaptsAndHalves(t *testing.T) {
	m := newModel(4, 0, 100, 300)
	total := m.syms[0].cumfreq
	if total != 400 {
		t.Fatalf("initial total %d", total)
	}
	m.update(2) // bump two symbols past maxfreq and force a halving
	if m.syms[0].cumfreq >= total+200 {
		t.Fatalf("model did not rescale: total %d", m.syms[0].cumfreq)
	}
	// cumfreqs must stay monotonically non-increasing with a zero tail
	for i := 0; i < len(m.syms)-1; i++ {
		if m.syms[i].cumfreq < m.syms[i+1].cumfreq {
			t.Fatal("cumfreq order violated")
		}
	}
	if m.syms[len(m.syms)-1].cumfreq != 0 {
		t.Fatal("tail cumfreq must stay zero")
	}
}
