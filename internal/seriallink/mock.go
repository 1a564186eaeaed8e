package seriallink

import (
	"bytes"
	"errors"
	"sync"
)

// TestablePort implements Port with scripted behaviour for testing. Each
// queued chunk is returned by exactly one Read, so tests control how the
// byte stream is split.
type TestablePort struct {
	mu sync.Mutex

	chunks [][]byte

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// Respond, if set, is called with every write and may return chunks to
	// queue as the device's answer.
	Respond func(written []byte) [][]byte

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	ReadCalls         int
	WriteCalls        int
	InputResets       int
	OutputResets      int
	DroppedOnReset    int
	resetClearsChunks bool
}

// NewTestablePort creates a new TestablePort. Input resets drop queued chunks
// like a real UART flush.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		WriteBuffer:       bytes.NewBuffer(nil),
		resetClearsChunks: true,
	}
}

// QueueChunks appends chunks to be returned by subsequent reads.
func (t *TestablePort) QueueChunks(chunks ...[]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		t.chunks = append(t.chunks, cp)
	}
}

// Pending returns the number of queued chunks not yet read.
func (t *TestablePort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks)
}

// Read returns the next queued chunk, or 0, nil when none is queued.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if len(t.chunks) == 0 {
		return 0, nil
	}

	n := copy(p, t.chunks[0])
	if n < len(t.chunks[0]) {
		t.chunks[0] = t.chunks[0][n:]
	} else {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

// Write records p and queues any response.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.WriteCalls++
	if t.Closed {
		t.mu.Unlock()
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	t.WriteBuffer.Write(p)
	n := len(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	respond := t.Respond
	t.mu.Unlock()

	if respond != nil {
		t.QueueChunks(respond(p)...)
	}
	return n, nil
}

// ResetInputBuffer drops any queued chunks.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.InputResets++
	if t.resetClearsChunks {
		for _, c := range t.chunks {
			t.DroppedOnReset += len(c)
		}
		t.chunks = nil
	}
	return nil
}

// ResetOutputBuffer records the reset.
func (t *TestablePort) ResetOutputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OutputResets++
	return nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

// Written returns all data written to the port.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// MockPortFactory implements PortFactory for testing.
type MockPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Port

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

// NewMockPortFactory creates a new MockPortFactory.
func NewMockPortFactory(port Port) *MockPortFactory {
	return &MockPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockPortFactory) Open(path string, opts PortOptions) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
