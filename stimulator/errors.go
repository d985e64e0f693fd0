package stimulator

import (
	"errors"
	"fmt"
	"time"
)

// ErrNeedsResync indicates the session no longer trusts its view of the
// device. Stimulation commands are refused until Resync succeeds.
var ErrNeedsResync = errors.New("stimulator: device state unknown, resync required")

// StateError indicates an operation was attempted in a state that does not
// permit it, e.g. Fire before Arm.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// AckTimeoutError indicates the device did not acknowledge a command within
// the configured window. The session transitions to Unknown because the
// command may still have been executed.
type AckTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("%s: no acknowledgement within %s", e.Op, e.Timeout)
}

func (e *AckTimeoutError) Is(target error) bool { return target == ErrNeedsResync }

// CorruptLinkError indicates consecutive frame corruption beyond the retry
// limit, usually a cabling or baud rate problem.
type CorruptLinkError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *CorruptLinkError) Error() string {
	return fmt.Sprintf("%s: %d consecutive corrupt frames, last: %v", e.Op, e.Attempts, e.Last)
}

func (e *CorruptLinkError) Unwrap() error { return e.Last }
