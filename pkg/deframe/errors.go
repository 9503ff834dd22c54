package deframe

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader = errors.New("deframe: malformed header")
	ErrIncompleteFrame = errors.New("deframe: incomplete frame")
	ErrDeviceReported  = errors.New("deframe: device reported error")
	ErrPreempted       = errors.New("deframe: text frame preempted")

	// ErrNoData is returned by a Source that currently has nothing to deliver
	// but is still open. io.EOF means the source is closed.
	ErrNoData = errors.New("deframe: no data available")
)

type Reason string

const (
	ReasonClosed    Reason = "closed"
	ReasonTimeout   Reason = "timeout"
	ReasonCanceled  Reason = "canceled"
	ReasonReadError Reason = "read_error"
)

type MalformedHeaderError struct {
	Line string
	Err  error
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("deframe: malformed header %q: %v", e.Line, e.Err)
}

func (e *MalformedHeaderError) Is(target error) bool { return target == ErrMalformedHeader }
func (e *MalformedHeaderError) Unwrap() error        { return e.Err }

// IncompleteFrameError reports a binary payload that ended before its
// declared length. The partial bytes are dropped.
type IncompleteFrameError struct {
	Received int
	Declared int
	Reason   Reason
}

func (e *IncompleteFrameError) Error() string {
	return fmt.Sprintf("deframe: incomplete frame: %d of %d bytes (%s)", e.Received, e.Declared, e.Reason)
}

func (e *IncompleteFrameError) Is(target error) bool { return target == ErrIncompleteFrame }

type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("deframe: device error: %s", e.Message)
}

func (e *DeviceError) Is(target error) bool { return target == ErrDeviceReported }

type PreemptedFrameError struct {
	Lines int
}

func (e *PreemptedFrameError) Error() string {
	return fmt.Sprintf("deframe: text frame with %d lines discarded by binary header", e.Lines)
}

func (e *PreemptedFrameError) Is(target error) bool { return target == ErrPreempted }
