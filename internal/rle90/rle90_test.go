package rle90

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func decode(t *testing.T, in []byte) ([]byte, error) {
	t.Helper()
	return io.ReadAll(NewReader(bytes.NewReader(in)))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"idempotent without escapes", []byte("hello world"), []byte("hello world")},
		{"empty", nil, nil},
		{"run", []byte{'a', 0x90, 4}, []byte("aaaa")},
		{"run of one is just the byte", []byte{'a', 0x90, 1}, []byte("a")},
		{"literal escape", []byte{0x90, 0x00}, []byte{0x90}},
		{"run of literal escape", []byte{0x90, 0x00, 0x90, 3}, []byte{0x90, 0x90, 0x90}},
		{"run then data", []byte{'x', 0x90, 3, 'y'}, []byte("xxxy")},
		{"max count", []byte{'z', 0x90, 0xff}, bytes.Repeat([]byte{'z'}, 255)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode(t, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestLeadingEscapeIsError(t *testing.T) {
	_, err := decode(t, []byte{0x90, 5})
	if !errors.Is(err, ErrLeadingEscape) {
		t.Fatalf("want ErrLeadingEscape, got %v", err)
	}
}

func TestTruncatedEscape(t *testing.T) {
	_, err := decode(t, []byte{'a', 0x90})
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("want ErrUnexpectedEOF, got %v", err)
	}
}
