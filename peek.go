package munbox

import "io"

// peekLayer wraps a layer so format constructors can read a small header and
// still reject without consuming the stream: peeked bytes are replayed to
// subsequent reads. Process keeps exactly one peekLayer around the current
// top of the stack so every constructor sees the same replay buffer.
type peekLayer struct {
	inner  Layer
	buf    []byte // peeked, not yet consumed
	opened bool
	err    error
}

// asPeek wraps l, or returns l itself when it is already a peekLayer.
func asPeek(l Layer) *peekLayer {
	if p, ok := l.(*peekLayer); ok {
		return p
	}
	return &peekLayer{inner: l}
}

// ensureOpen positions the wrapped layer at its first fork, once.
func (p *peekLayer) ensureOpen() (*FileInfo, error) {
	if !p.opened {
		info, err := p.inner.Open(First)
		if err != nil {
			return nil, err
		}
		p.opened = true
		return info, nil
	}
	return nil, nil
}

// Peek returns up to n bytes from the head of the current fork without
// consuming them. Fewer than n bytes means the fork ended early; that is not
// an error here, rejection is the constructor's call.
func (p *peekLayer) Peek(n int) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if _, err := p.ensureOpen(); err != nil {
		return nil, err
	}
	for len(p.buf) < n {
		chunk := make([]byte, n-len(p.buf))
		got, err := p.inner.Read(chunk)
		p.buf = append(p.buf, chunk[:got]...)
		if err == io.EOF {
			break
		} else if err != nil {
			p.err = err
			return nil, err
		} else if got == 0 {
			break
		}
	}
	if len(p.buf) < n {
		return p.buf, nil
	}
	return p.buf[:n], nil
}

func (p *peekLayer) Open(which Which) (*FileInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.buf = nil
	info, err := p.inner.Open(which)
	if err == nil {
		p.opened = true
	} else if err != io.EOF {
		p.err = err
	}
	return info, err
}

func (p *peekLayer) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if !p.opened {
		p.err = ErrUsage
		return 0, p.err
	}
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	n, err := p.inner.Read(b)
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}

func (p *peekLayer) Close() error {
	p.buf = nil
	return p.inner.Close()
}
