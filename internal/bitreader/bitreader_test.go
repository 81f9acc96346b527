package bitreader

import (
	"bytes"
	"io"
	"testing"
)

func TestMSB(t *testing.T) {
	// 0xB3 0x5C = 1011 0011 0101 1100
	r := NewMSB(bytes.NewReader([]byte{0xb3, 0x5c}))
	for _, want := range []struct{ n, v int }{{1, 1}, {2, 1}, {5, 0x13}, {8, 0x5c}} {
		got, err := r.ReadBits(want.n)
		if err != nil {
			t.Fatal(err)
		}
		if got != uint32(want.v) {
			t.Fatalf("ReadBits(%d) = %#x, want %#x", want.n, got, want.v)
		}
	}
	if _, err := r.ReadBits(1); err != io.EOF {
		t.Fatalf("past end: %v", err)
	}
}

func TestMSBWide(t *testing.T) {
	r := NewMSB(bytes.NewReader([]byte{0x12, 0x34, 0x56, 0x78}))
	got, err := r.ReadBits(24)
	if err != nil || got != 0x123456 {
		t.Fatalf("got %#x, %v", got, err)
	}
}

func TestMSBAlign(t *testing.T) {
	r := NewMSB(bytes.NewReader([]byte{0xff, 0x81}))
	r.ReadBits(3)
	r.Align()
	got, err := r.ReadBits(8)
	if err != nil || got != 0x81 {
		t.Fatalf("got %#x, %v", got, err)
	}
}

func TestLSB(t *testing.T) {
	// LSB-first 9-bit codes 97, 98 packed the way compress does.
	var packed []byte
	var acc uint32
	nbit := 0
	for _, code := range []uint32{97, 98} {
		acc |= code << nbit
		nbit += 9
		for nbit >= 8 {
			packed = append(packed, byte(acc))
			acc >>= 8
			nbit -= 8
		}
	}
	packed = append(packed, byte(acc))

	r := NewLSB(bytes.NewReader(packed))
	for _, want := range []uint32{97, 98} {
		got, err := r.ReadBits(9)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %d want %d", got, want)
		}
	}
}

func TestTruncatedMidField(t *testing.T) {
	r := NewMSB(bytes.NewReader([]byte{0xff}))
	if _, err := r.ReadBits(4); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadBits(8); err != io.ErrUnexpectedEOF {
		t.Fatalf("want ErrUnexpectedEOF, got %v", err)
	}
}
