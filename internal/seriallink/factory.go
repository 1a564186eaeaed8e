package seriallink

import (
	"fmt"

	"go.bug.st/serial"
)

// RealPortFactory opens hardware ports through go.bug.st/serial.
type RealPortFactory struct{}

// NewRealPortFactory returns a factory for hardware serial ports.
func NewRealPortFactory() *RealPortFactory {
	return &RealPortFactory{}
}

// Open opens the port and switches it to non-blocking reads: a Read with no
// pending bytes returns 0, nil immediately.
func (RealPortFactory) Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(0); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set non-blocking reads: %w", err)
	}
	return port, nil
}
