// Package seriallink is the byte channel between the host and the camera
// board: a duplex serial line with non-blocking reads and explicit buffer
// resets.
package seriallink

import (
	"io"
)

// Port is the minimal surface needed from a serial device. go.bug.st/serial
// ports satisfy it directly; tests use TestablePort.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// PortFactory opens serial ports. It exists so the capture station can be
// wired against a fake device.
type PortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (Port, error)
}
