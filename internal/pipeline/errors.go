package pipeline

import (
	"errors"

	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
)

// ErrBusy is returned when a capture is requested while another is still
// running on the same session.
var ErrBusy = errors.New("capture already in progress")

// Retryable reports whether err came from a capture that may succeed if the
// whole command is issued again: timeouts, malformed transfers and frames
// that failed to decode. Transport failures and configuration errors are
// fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, camera.ErrFrameTimeout) ||
		errors.Is(err, camera.ErrFrameOverflow) ||
		errors.Is(err, camera.ErrFrameTooSmall) {
		return true
	}
	var de *imaging.DecodeError
	return errors.As(err, &de)
}
