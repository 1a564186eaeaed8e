package seriallink

import (
	"errors"
	"fmt"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/monitoring"
)

// ErrWriteFailed is returned when the port accepted fewer bytes than asked.
var ErrWriteFailed = errors.New("failed to write to serial port")

// ErrClosed is returned by operations on a closed Link.
var ErrClosed = errors.New("serial link closed")

// Link is the host side of the camera transport. It owns exactly one Port
// and is single-consumer: callers must not overlap captures on one Link.
type Link struct {
	port    Port
	name    string
	pending []byte
	scratch []byte
	closed  bool
}

// NewLink wraps an already open port.
func NewLink(port Port, name string) *Link {
	return &Link{
		port:    port,
		name:    name,
		scratch: make([]byte, 4096),
	}
}

// Open opens path with the factory, waits settle for the board to come out of
// reset and returns the Link.
func Open(factory PortFactory, path string, opts PortOptions, settle time.Duration) (*Link, error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	n, _ := opts.Normalize()
	monitoring.Logf("serial opened: %s @ %d", path, n.BaudRate)
	return NewLink(port, path), nil
}

// String returns the port path.
func (l *Link) String() string {
	return l.name
}

// Write sends p to the device.
func (l *Link) Write(p []byte) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	n, err := l.port.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, ErrWriteFailed
	}
	return n, nil
}

// Available reports how many received bytes can be read without blocking.
// Bytes pulled from the port while peeking are held for the next Read.
func (l *Link) Available() (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	for {
		n, err := l.port.Read(l.scratch)
		if n > 0 {
			l.pending = append(l.pending, l.scratch[:n]...)
		}
		if err != nil {
			return len(l.pending), err
		}
		if n < len(l.scratch) {
			return len(l.pending), nil
		}
	}
}

// Read returns up to max received bytes, possibly none. It never blocks.
func (l *Link) Read(max int) ([]byte, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if max <= 0 {
		return nil, nil
	}
	if len(l.pending) == 0 {
		if _, err := l.Available(); err != nil && len(l.pending) == 0 {
			return nil, err
		}
	}
	n := len(l.pending)
	if n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, l.pending[:n])
	l.pending = l.pending[n:]
	if len(l.pending) == 0 {
		l.pending = nil
	}
	return out, nil
}

// ResetInputBuffer discards unread input, including bytes held from a peek.
func (l *Link) ResetInputBuffer() error {
	if l.closed {
		return ErrClosed
	}
	l.pending = nil
	return l.port.ResetInputBuffer()
}

// ResetOutputBuffer discards output not yet transmitted.
func (l *Link) ResetOutputBuffer() error {
	if l.closed {
		return ErrClosed
	}
	return l.port.ResetOutputBuffer()
}

// Close closes the underlying port. Closing twice is a no-op.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.pending = nil
	return l.port.Close()
}
