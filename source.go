package munbox

import (
	"fmt"
	"io"
	"os"
)

// fileLayer is the leaf layer over an OS file: a single data fork, no
// metadata, rewindable with Open(First).
type fileLayer struct {
	f      *os.File
	opened bool
	err    error
}

// NewFile opens path as a leaf source layer.
func NewFile(path string) (Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileLayer{f: f}, nil
}

func (l *fileLayer) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	if which == Next {
		return nil, io.EOF
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		l.err = fmt.Errorf("file: %w", err)
		return nil, l.err
	}
	l.opened = true
	st, err := l.f.Stat()
	if err != nil {
		l.err = fmt.Errorf("file: %w", err)
		return nil, l.err
	}
	return &FileInfo{
		Name:   st.Name(),
		Fork:   ForkData,
		Length: uint32(st.Size()),
	}, nil
}

func (l *fileLayer) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if !l.opened {
		l.err = ErrUsage
		return 0, l.err
	}
	n, err := l.f.Read(p)
	if err != nil && err != io.EOF {
		l.err = fmt.Errorf("file: %w", err)
		err = l.err
	}
	return n, err
}

func (l *fileLayer) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f, l.err = nil, os.ErrClosed
	return err
}

// memLayer is the leaf layer over an in-memory buffer.
type memLayer struct {
	buf    []byte
	pos    int
	opened bool
	err    error
}

// NewMem wraps buf as a leaf source layer. The buffer is not copied.
func NewMem(buf []byte) Layer {
	return &memLayer{buf: buf}
}

func (l *memLayer) Open(which Which) (*FileInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	if which == Next {
		return nil, io.EOF
	}
	l.pos = 0
	l.opened = true
	return &FileInfo{
		Fork:   ForkData,
		Length: uint32(len(l.buf)),
	}, nil
}

func (l *memLayer) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if !l.opened {
		l.err = ErrUsage
		return 0, l.err
	}
	if l.pos >= len(l.buf) {
		return 0, io.EOF
	}
	n := copy(p, l.buf[l.pos:])
	l.pos += n
	return n, nil
}

func (l *memLayer) Close() error {
	l.buf, l.err = nil, os.ErrClosed
	return nil
}
