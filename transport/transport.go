// Package transport opens the serial link to a stimulator.
//
// The device speaks RS-232 at a fixed 38400 baud, 8 data bits, no parity,
// one stop bit. Reads are given a short timeout so the session layer can
// poll for frames without blocking forever.
package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the only rate the stimulator supports.
const DefaultBaud = 38400

// DefaultReadTimeout bounds a single Read call. The session layer loops on
// Read until its own ack deadline expires, so this only sets the poll
// granularity.
const DefaultReadTimeout = 100 * time.Millisecond

// Port is the byte link the session layer drives. *serial.Port satisfies
// it, and tests substitute scripted implementations.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input, typically stale frames from before a
	// reconnect.
	Flush() error
}

// Config describes the serial device to open.
type Config struct {
	// Name is the device path, e.g. /dev/ttyUSB0 or COM3.
	Name string

	// Baud overrides DefaultBaud when non-zero. Only useful against
	// adapters that re-rate the link.
	Baud int

	// ReadTimeout overrides DefaultReadTimeout when non-zero.
	ReadTimeout time.Duration
}

// Open opens the serial port described by cfg.
func Open(cfg Config) (Port, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("transport: no device name given")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Name, err)
	}
	return port, nil
}
