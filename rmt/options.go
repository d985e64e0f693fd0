package rmt

import (
	"time"

	"github.com/neurokit/go-magventure/logger"
)

// Trial is the record of one completed trial, passed to the trial
// callback and collected in the final Result.
type Trial struct {
	// Number counts from 1
	Number int

	// AmplitudePercent is the stimulation amplitude the pulse was
	// delivered at
	AmplitudePercent int

	// Outcome is the source's judgement
	Outcome Outcome
}

// TrialCallback is invoked after every completed trial. Implementations
// should return quickly; the callback runs on the trial loop.
type TrialCallback func(Trial)

// RunnerConfig holds the runner configuration.
type RunnerConfig struct {
	// OutcomeTimeout bounds the wait for a trial judgement after a
	// pulse is delivered
	OutcomeTimeout time.Duration

	// TrialInterval is the nominal pause between trials
	TrialInterval time.Duration

	// IntervalJitter is the fraction of TrialInterval the pause is
	// randomized by, so subjects cannot anticipate the pulse
	IntervalJitter float64

	// UnwindTimeout bounds the safety unwind executed when the run
	// exits, however it exits
	UnwindTimeout time.Duration

	// TrialCallback is called after every trial (optional)
	TrialCallback TrialCallback

	// Logger is used for logging operations (optional)
	Logger logger.Logger
}

// defaultRunnerConfig returns the default configuration.
func defaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		OutcomeTimeout: 10 * time.Second,
		TrialInterval:  4 * time.Second,
		IntervalJitter: 0.25,
		UnwindTimeout:  5 * time.Second,
	}
}

// RunnerOption is a functional option for configuring the Runner.
type RunnerOption func(*RunnerConfig)

// WithTrialCallback sets a callback observing completed trials.
//
// Example:
//
//	runner := rmt.NewRunner(sess, est, src,
//	    rmt.WithTrialCallback(func(t rmt.Trial) {
//	        fmt.Printf("trial %d at %d%%\n", t.Number, t.AmplitudePercent)
//	    }),
//	)
func WithTrialCallback(cb TrialCallback) RunnerOption {
	return func(c *RunnerConfig) {
		c.TrialCallback = cb
	}
}

// WithLogger sets a logger for run operations.
func WithLogger(log logger.Logger) RunnerOption {
	return func(c *RunnerConfig) {
		c.Logger = log
	}
}

// WithOutcomeTimeout sets how long to wait for each trial judgement.
func WithOutcomeTimeout(timeout time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		if timeout > 0 {
			c.OutcomeTimeout = timeout
		}
	}
}

// WithTrialInterval sets the nominal pause between trials. Zero disables
// the pause entirely.
func WithTrialInterval(interval time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		if interval >= 0 {
			c.TrialInterval = interval
		}
	}
}

// WithIntervalJitter sets the pause randomization as a fraction of the
// trial interval, clamped to [0, 1].
func WithIntervalJitter(fraction float64) RunnerOption {
	return func(c *RunnerConfig) {
		if fraction >= 0 && fraction <= 1 {
			c.IntervalJitter = fraction
		}
	}
}

// WithUnwindTimeout bounds the disarm/disable unwind.
func WithUnwindTimeout(timeout time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		if timeout > 0 {
			c.UnwindTimeout = timeout
		}
	}
}
