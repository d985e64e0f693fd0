// Package stimulator drives a magnetic stimulator over its serial protocol.
//
// The central type is Session, which owns the serial port and serializes
// every command/acknowledgement round trip. On top of the raw protocol it
// maintains a small safety state machine:
//
//	Disconnected -> Disabled -> Enabled -> Armed
//
// plus a degraded Unknown state entered whenever an acknowledgement times
// out. Arm is a host-side interlock, not a device command: it re-reads the
// device status, confirms the output stage is enabled, and only then allows
// Fire. A successful Fire consumes the arm, so every pulse requires an
// explicit re-arm. In the Unknown state all stimulation commands are
// refused until Resync re-reads the device status.
//
// Basic usage:
//
//	port, err := transport.Open(transport.Config{Name: "/dev/ttyUSB0"})
//	if err != nil {
//	    // handle error
//	}
//	sess := stimulator.New(port, stimulator.WithLogger(log))
//	if err := sess.Connect(ctx); err != nil {
//	    // handle error
//	}
//	defer sess.Close()
//
//	sess.Enable(ctx)
//	sess.SetAmplitude(ctx, 50)
//	sess.Arm(ctx)
//	sess.Fire(ctx)
//
// Session methods are safe for concurrent use; overlapping calls are
// serialized so at most one round trip is in flight on the wire.
package stimulator
