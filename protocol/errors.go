package protocol

import (
	"errors"
	"fmt"
)

// ErrFrameIncomplete reports that fewer bytes are available than the frame
// declares. The caller should buffer the partial frame and retry the read;
// nothing has been consumed.
var ErrFrameIncomplete = errors.New("protocol: incomplete frame")

// CorruptFrameError reports a frame that failed structural validation:
// a bad start/end marker or a checksum mismatch. The bytes covered by the
// frame must be discarded; they are never passed upstream.
type CorruptFrameError struct {
	// Reason describes what failed validation
	Reason string
}

func (e *CorruptFrameError) Error() string {
	return fmt.Sprintf("protocol: corrupt frame: %s", e.Reason)
}

// UnknownCommandError reports a structurally valid frame whose command ID
// is not part of the implemented protocol. This indicates version skew
// between driver and firmware and is treated as fatal by callers.
type UnknownCommandError struct {
	// ID is the unrecognized command ID
	ID byte
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("protocol: unknown command ID 0x%02X", e.ID)
}

// InvalidParameterError reports an encode-side range violation. The command
// is never sent to the device.
type InvalidParameterError struct {
	// Param is the offending parameter name
	Param string

	// Value is the rejected value
	Value interface{}

	// Reason describes the accepted range
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("protocol: invalid %s %v: %s", e.Param, e.Value, e.Reason)
}

// ResponseLengthError reports a payload whose size does not match the
// layout documented for its command ID.
type ResponseLengthError struct {
	// ID is the frame command ID
	ID byte

	// Got is the actual payload length
	Got int

	// Want is the minimum expected payload length
	Want int
}

func (e *ResponseLengthError) Error() string {
	return fmt.Sprintf("protocol: response 0x%02X payload too short: got %d bytes, want %d", e.ID, e.Got, e.Want)
}
