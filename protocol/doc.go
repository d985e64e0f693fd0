// Package protocol implements the MagVenture stimulator serial protocol.
//
// This package provides functions to build command frames and parse frames
// received from the stimulator. It is a pure codec: no I/O, no device state.
//
// # Protocol Overview
//
// The stimulator speaks a packet-based protocol over a 3-wire serial link
// (38400 baud, 8N1, no flow control):
//
//	Frame: [SOF][LEN][BODY...][CRC][EOF]
//
// Where:
//   - SOF = Start of Frame (0xFE)
//   - LEN = body length in bytes (1 byte)
//   - BODY = command ID followed by the command payload
//   - CRC = CRC-8/MAXIM over the body
//   - EOF = End of Frame (0xFF)
//
// Multi-byte numeric fields inside the body are big-endian.
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	frame, err := protocol.BuildSetAmplitudeCmd(60, 0)
//	frame, err := protocol.BuildFirePulseCmd()
//	// ... etc
//
// # Frame Parsing
//
// Use ParseFrame to validate framing and checksum of incoming bytes. It
// reports how many bytes it consumed so callers can maintain a read buffer:
//
//	frame, n, err := protocol.ParseFrame(buf)
//	if errors.Is(err, protocol.ErrFrameIncomplete) {
//	    // read more bytes and retry
//	}
//
// Then use the Parse* functions for frame-specific payloads:
//
//	status, err := protocol.ParseStatus(frame)
//	mep, err := protocol.ParseMEP(frame)
//	// ... etc
//
// # Error Handling
//
// Decode failures are typed so callers can react per class:
//
//   - ErrFrameIncomplete: fewer bytes available than the frame declares;
//     buffer and retry the read.
//   - CorruptFrameError: bad marker or checksum; the frame must be dropped.
//   - UnknownCommandError: valid framing but unrecognized command ID. This
//     is surfaced, never silently dropped: an unknown ID means firmware and
//     driver disagree about the protocol.
//   - InvalidParameterError: encode-side range violation; nothing is sent.
//
// # Reference
//
// Field layouts follow the MagVenture external control documentation as
// implemented for the X100 family.
package protocol
