// Package camera speaks the camera board's capture protocol: single-byte
// commands out, one JPEG freeze-frame back per capture command.
package camera

import (
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

// Command bytes understood by the board firmware.
const (
	// CommandCapture asks the board to grab one frame and stream it as JPEG.
	CommandCapture byte = 0x10
)

// Link is the transport surface the protocol needs. *seriallink.Link
// implements it.
type Link interface {
	Write(p []byte) (int, error)
	Available() (int, error)
	Read(max int) ([]byte, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Commander issues fire-and-forget commands: it writes and waits, but never
// reads an acknowledgement.
type Commander struct {
	link  Link
	cfg   config.CaptureConfig
	clock timeutil.Clock
}

// NewCommander creates a Commander for the given link.
func NewCommander(link Link, cfg config.CaptureConfig, clock timeutil.Clock) *Commander {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Commander{link: link, cfg: cfg, clock: clock}
}

// PrepareCapture discards stale bytes from any earlier, possibly incomplete
// transfer: output first, then input, then a short pause.
func (c *Commander) PrepareCapture() error {
	if err := c.link.ResetOutputBuffer(); err != nil {
		return &TransportError{Op: "reset output", Err: err}
	}
	if err := c.link.ResetInputBuffer(); err != nil {
		return &TransportError{Op: "reset input", Err: err}
	}
	if d := c.cfg.GetResetPause(); d > 0 {
		c.clock.Sleep(d)
	}
	return nil
}

// Trigger writes the configured capture command and waits the settle
// interval.
func (c *Commander) Trigger() error {
	return c.SendRaw(byte(c.cfg.Command))
}

// SendRaw writes one command byte and waits the settle interval.
func (c *Commander) SendRaw(b byte) error {
	if _, err := c.link.Write([]byte{b}); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if d := c.cfg.GetSettle(); d > 0 {
		c.clock.Sleep(d)
	}
	return nil
}
