package stimulator

import (
	"time"

	"github.com/neurokit/go-magventure/logger"
	"github.com/neurokit/go-magventure/protocol"
)

// StateCallback is invoked after every session state transition.
// Implementations should return quickly; the callback runs with the
// session lock held.
type StateCallback func(old, new State)

// MEPCallback is invoked for every motor-evoked-potential frame the device
// pushes, solicited or not.
type MEPCallback func(protocol.MEP)

// Config holds the session configuration.
type Config struct {
	// AckTimeout is how long to wait for a command acknowledgement
	AckTimeout time.Duration

	// HandshakeTimeout bounds the initial status exchange in Connect
	HandshakeTimeout time.Duration

	// FrameRetryLimit is how many consecutive corrupt frames to discard
	// before giving up on a round trip
	FrameRetryLimit int

	// Logger is used for logging operations (optional)
	Logger logger.Logger

	// StateCallback is called on state transitions (optional)
	StateCallback StateCallback

	// MEPCallback is called on incoming MEP frames (optional)
	MEPCallback MEPCallback
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		AckTimeout:       time.Second,
		HandshakeTimeout: 3 * time.Second,
		FrameRetryLimit:  3,
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithAckTimeout sets the acknowledgement timeout for every command.
//
// Example:
//
//	sess := stimulator.New(port, stimulator.WithAckTimeout(2*time.Second))
func WithAckTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.AckTimeout = timeout
		}
	}
}

// WithHandshakeTimeout sets the timeout for the initial status exchange.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.HandshakeTimeout = timeout
		}
	}
}

// WithFrameRetryLimit sets how many consecutive corrupt frames are
// discarded before a round trip fails.
func WithFrameRetryLimit(limit int) Option {
	return func(c *Config) {
		if limit >= 0 {
			c.FrameRetryLimit = limit
		}
	}
}

// WithLogger sets a logger for session operations.
//
// Example:
//
//	sess := stimulator.New(port, stimulator.WithLogger(logger.Get("debug")))
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithStateCallback sets a callback observing state transitions.
func WithStateCallback(cb StateCallback) Option {
	return func(c *Config) {
		c.StateCallback = cb
	}
}

// WithMEPCallback sets a callback receiving MEP measurement frames.
func WithMEPCallback(cb MEPCallback) Option {
	return func(c *Config) {
		c.MEPCallback = cb
	}
}
