package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrLengthMismatch  = errors.New("length mismatch")
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// RejectError reports a frame that does not match the wire format.
// It unwraps to ErrLengthMismatch or ErrVersionMismatch.
type RejectError struct {
	Reason error
	Frame  RawFrame
}

func (e *RejectError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrLengthMismatch):
		return fmt.Sprintf("frame rejected on pipe %d: %v (got %d bytes, want %d)",
			e.Frame.Pipe, e.Reason, e.Frame.Len(), FrameLength)
	case errors.Is(e.Reason, ErrVersionMismatch):
		return fmt.Sprintf("frame rejected on pipe %d: %v (got 0x%02x, want 0x%02x)",
			e.Frame.Pipe, e.Reason, e.Frame.Bytes[0], Version)
	default:
		return fmt.Sprintf("frame rejected on pipe %d: %v", e.Frame.Pipe, e.Reason)
	}
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}
