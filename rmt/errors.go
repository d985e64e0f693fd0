package rmt

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted indicates the run was stopped by Abort or context
// cancellation. The safety unwind has already executed when Run returns
// this error.
var ErrAborted = errors.New("rmt: run aborted")

// ErrEstimationComplete indicates Record was called after the staircase
// terminated.
var ErrEstimationComplete = errors.New("rmt: estimation already complete")

// ConfigError reports an estimator or runner configuration field that is
// out of range. Nothing has been sent to the device when it is returned.
type ConfigError struct {
	// Field is the rejected configuration field
	Field string

	// Value is the rejected value
	Value interface{}

	// Reason describes the accepted range
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rmt: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// OutcomeTimeoutError indicates the outcome source produced no judgement
// for a delivered pulse within the configured window. The trial is
// reported failed, never silently repeated: the pulse was already
// delivered.
type OutcomeTimeoutError struct {
	Trial   int
	Timeout time.Duration
}

func (e *OutcomeTimeoutError) Error() string {
	return fmt.Sprintf("trial %d: no outcome within %s", e.Trial, e.Timeout)
}
