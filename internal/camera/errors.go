package camera

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for errors.Is. The concrete error types below carry the
// details.
var (
	ErrTransport     = errors.New("transport failure")
	ErrFrameTimeout  = errors.New("frame timeout")
	ErrFrameOverflow = errors.New("frame overflow")
	ErrFrameTooSmall = errors.New("frame too small")
)

// TransportError reports a failed operation on the link. It is fatal for the
// capture and never retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// TimeoutPhase names the clock that fired.
type TimeoutPhase string

const (
	TimeoutOverall   TimeoutPhase = "overall"
	TimeoutInterByte TimeoutPhase = "inter-byte"
)

// FrameTimeoutError reports that no complete frame arrived in time.
type FrameTimeoutError struct {
	Phase    TimeoutPhase
	Limit    time.Duration
	Elapsed  time.Duration
	Received int
	Started  bool
}

func (e *FrameTimeoutError) Error() string {
	return fmt.Sprintf("frame timeout (%s) after %v: limit %v, %d bytes received, start marker seen=%t",
		e.Phase, e.Elapsed, e.Limit, e.Received, e.Started)
}

func (e *FrameTimeoutError) Is(target error) bool { return target == ErrFrameTimeout }

// FrameOverflowError reports a buffer that outgrew the frame size bound.
type FrameOverflowError struct {
	Size int
	Max  int
}

func (e *FrameOverflowError) Error() string {
	return fmt.Sprintf("frame buffer overflow: %d bytes exceeds max %d", e.Size, e.Max)
}

func (e *FrameOverflowError) Is(target error) bool { return target == ErrFrameOverflow }

// FrameTooSmallError reports a completed frame below the minimum size, most
// likely a marker collision.
type FrameTooSmallError struct {
	Size int
	Min  int
}

func (e *FrameTooSmallError) Error() string {
	return fmt.Sprintf("frame too small: %d bytes, min %d", e.Size, e.Min)
}

func (e *FrameTooSmallError) Is(target error) bool { return target == ErrFrameTooSmall }
