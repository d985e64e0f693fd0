package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseFrame validates the framing of buf and extracts the first complete
// frame. It returns the decoded frame, the number of bytes consumed, and a
// validation error if any.
//
// The error taxonomy matters to callers:
//   - ErrFrameIncomplete: buf holds a frame prefix; nothing consumed yet.
//     Buffer more bytes and call again.
//   - *CorruptFrameError: the consumed bytes failed marker or checksum
//     validation and must be discarded.
//   - *UnknownCommandError: a valid frame with an ID this driver does not
//     implement. The frame and consumed count are still returned so the
//     caller can log the evidence, but it must not be interpreted.
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < MinFrameSize {
		return Frame{}, 0, ErrFrameIncomplete
	}

	if buf[0] != StartOfFrame {
		return Frame{}, 1, &CorruptFrameError{
			Reason: fmt.Sprintf("invalid start marker: got 0x%02X, expected 0x%02X", buf[0], StartOfFrame),
		}
	}

	bodyLen := int(buf[1])
	total := bodyLen + MinFrameSize
	if len(buf) < total {
		return Frame{}, 0, ErrFrameIncomplete
	}

	if bodyLen == 0 {
		return Frame{}, total, &CorruptFrameError{Reason: "empty body"}
	}

	body := buf[2 : 2+bodyLen]
	if buf[total-1] != EndOfFrame {
		return Frame{}, total, &CorruptFrameError{
			Reason: fmt.Sprintf("invalid end marker: got 0x%02X, expected 0x%02X", buf[total-1], EndOfFrame),
		}
	}

	if got, want := buf[total-2], Checksum(body); got != want {
		return Frame{}, total, &CorruptFrameError{
			Reason: fmt.Sprintf("checksum mismatch: got 0x%02X, expected 0x%02X", got, want),
		}
	}

	frame := Frame{ID: body[0], Payload: make([]byte, bodyLen-1)}
	copy(frame.Payload, body[1:])

	switch frame.ID {
	case CmdGetCoilStatus, CmdSetAmplitude, CmdSetEnabled, CmdFirePulse, RspMEP,
		CmdGetStatus, RspAmplitudeScale, RspAmplitudeGain, RspPageChange,
		CmdPulseParams, CmdTriggerDelays, CmdTrainParams, CmdGetPageInfo:
		return frame, total, nil
	default:
		return frame, total, &UnknownCommandError{ID: frame.ID}
	}
}

// parseStateFlags unpacks the device state byte carried in every ack.
func parseStateFlags(b byte) StateFlags {
	return StateFlags{
		Mode:     Mode(b & 0x03),
		Waveform: Waveform(b >> 2 & 0x03),
		Enabled:  b>>4&0x01 != 0,
		Model:    Model(b >> 5 & 0x07),
	}
}

// ParseStatus parses a status report (frame ID 0x00 or 0x05).
//
// Payload format:
//
//	[FLAGS][SERIAL:3][TEMP][COIL][AMP_A][AMP_B]...
//
// The extended report (ID 0x05) additionally carries the train-running
// indicator at payload byte 13.
func ParseStatus(f Frame) (*Status, error) {
	if f.ID != CmdGetCoilStatus && f.ID != CmdGetStatus {
		return nil, fmt.Errorf("not a status frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 8 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 8}
	}

	s := &Status{
		Flags:        parseStateFlags(f.Payload[0]),
		SerialNumber: uint32(f.Payload[1])<<16 | uint32(f.Payload[2])<<8 | uint32(f.Payload[3]),
		Temperature:  int(f.Payload[4]),
		CoilType:     f.Payload[5],
		AmplitudeA:   int(f.Payload[6]),
		AmplitudeB:   int(f.Payload[7]),
	}
	if f.ID == CmdGetStatus {
		if len(f.Payload) < 14 {
			return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 14}
		}
		s.TrainRunning = f.Payload[13] != 0
	}
	return s, nil
}

// ParseAmplitudeAck parses a set-amplitude acknowledgement (frame ID 0x01).
//
// Payload format:
//
//	[AMP_A][AMP_B][FLAGS]
func ParseAmplitudeAck(f Frame) (*AmplitudeAck, error) {
	if f.ID != RspAmplitude {
		return nil, fmt.Errorf("not an amplitude ack: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 3 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 3}
	}
	return &AmplitudeAck{
		AmplitudeA: int(f.Payload[0]),
		AmplitudeB: int(f.Payload[1]),
		Flags:      parseStateFlags(f.Payload[2]),
	}, nil
}

// ParseFireAck parses a trigger acknowledgement (frame ID 0x02).
//
// Payload format:
//
//	[DIDT_A][DIDT_B][FLAGS]
func ParseFireAck(f Frame) (*FireAck, error) {
	if f.ID != RspFire {
		return nil, fmt.Errorf("not a fire ack: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 3 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 3}
	}
	return &FireAck{
		DiDtA: int(f.Payload[0]),
		DiDtB: int(f.Payload[1]),
		Flags: parseStateFlags(f.Payload[2]),
	}, nil
}

// ParseEnableAck parses an enable/disable acknowledgement (frame ID 0x03).
//
// Payload format:
//
//	[TEMP][COIL][FLAGS]
func ParseEnableAck(f Frame) (*EnableAck, error) {
	if f.ID != RspEnable {
		return nil, fmt.Errorf("not an enable ack: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 3 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 3}
	}
	return &EnableAck{
		Temperature: int(f.Payload[0]),
		CoilType:    f.Payload[1],
		Flags:       parseStateFlags(f.Payload[2]),
	}, nil
}

// ParseMEP parses a motor-evoked-potential measurement (frame ID 0x04).
//
// Payload format:
//
//	[MAX_UV:4][MIN_UV:4][T_MAX_US:4]
func ParseMEP(f Frame) (*MEP, error) {
	if f.ID != RspMEP {
		return nil, fmt.Errorf("not an MEP frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 12 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 12}
	}
	return &MEP{
		MaxAmplitudeUV: binary.BigEndian.Uint32(f.Payload[0:4]),
		MinAmplitudeUV: binary.BigEndian.Uint32(f.Payload[4:8]),
		TimeOfMaxUS:    binary.BigEndian.Uint32(f.Payload[8:12]),
	}, nil
}

// ParsePageChange parses a page switch report (frame ID 0x08).
//
// Payload format:
//
//	[PAGE][TRAIN_RUNNING][FLAGS]
func ParsePageChange(f Frame) (*PageChange, error) {
	if f.ID != RspPageChange {
		return nil, fmt.Errorf("not a page change frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 3 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 3}
	}
	return &PageChange{
		Page:         f.Payload[0],
		TrainRunning: f.Payload[1] != 0,
		Flags:        parseStateFlags(f.Payload[2]),
	}, nil
}

// PulseParamsEcho is the device's answer to a pulse parameter query
// (frame ID 0x09). The inter-pulse interval arrives as an index into the
// model- and mode-dependent table of supported intervals, not as a value,
// so it is surfaced raw.
type PulseParamsEcho struct {
	Model            Model
	Mode             Mode
	CurrentDirection Direction
	Waveform         Waveform
	BurstPulses      int

	// IPIIndex indexes the supported-interval table (little-endian on the
	// wire, unlike every other multi-byte field)
	IPIIndex uint16

	// BARatio is the decoded pulse B/A ratio, meaningful in Twin mode
	BARatio float64
}

// ParsePulseParams parses a pulse parameter echo (frame ID 0x09).
//
// Payload format:
//
//	[SUB][MODEL][MODE][DIR][WAVE][5-BURST][IPI_IDX_L][IPI_IDX_H][RATIO_RAW]
func ParsePulseParams(f Frame) (*PulseParamsEcho, error) {
	if f.ID != CmdPulseParams {
		return nil, fmt.Errorf("not a pulse parameter frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 9 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 9}
	}
	return &PulseParamsEcho{
		Model:            Model(f.Payload[1]),
		Mode:             Mode(f.Payload[2]),
		CurrentDirection: Direction(f.Payload[3]),
		Waveform:         Waveform(f.Payload[4]),
		BurstPulses:      MaxBurstPulses - int(f.Payload[5]),
		IPIIndex:         uint16(f.Payload[7])<<8 | uint16(f.Payload[6]),
		BARatio:          5 - float64(f.Payload[8])*0.05,
	}, nil
}

// ParseTriggerDelays parses a trigger delay echo (frame ID 0x0A).
//
// Payload format:
//
//	[SUB][IN*10:2][OUT*10:2][CHARGE:2]
func ParseTriggerDelays(f Frame) (*TriggerDelays, error) {
	if f.ID != CmdTriggerDelays {
		return nil, fmt.Errorf("not a trigger delay frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 7 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 7}
	}
	return &TriggerDelays{
		InputMS:  float64(binary.BigEndian.Uint16(f.Payload[1:3])) / 10,
		OutputMS: float64(int16(binary.BigEndian.Uint16(f.Payload[3:5]))) / 10,
		ChargeMS: int(binary.BigEndian.Uint16(f.Payload[5:7])),
	}, nil
}

// ParseTrainParams parses a train parameter echo (frame ID 0x0B).
//
// Payload format:
//
//	[SUB][TC][RATE*10:2][PULSES:2][TRAINS:2][ITI*10:2][WARN]...
func ParseTrainParams(f Frame) (*TrainParams, error) {
	if f.ID != CmdTrainParams {
		return nil, fmt.Errorf("not a train parameter frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 11 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 11}
	}
	return &TrainParams{
		TimingControl:     TimingControl(f.Payload[1] & 0x0F),
		RepRate:           float64(binary.BigEndian.Uint16(f.Payload[2:4])) / 10,
		PulsesInTrain:     int(binary.BigEndian.Uint16(f.Payload[4:6])),
		NumberOfTrains:    int(binary.BigEndian.Uint16(f.Payload[6:8])),
		ITI:               float64(binary.BigEndian.Uint16(f.Payload[8:10])) / 10,
		PriorWarningSound: f.Payload[10] != 0,
	}, nil
}

// ParsePageInfo parses a page/stimulation-counter report (frame ID 0x0C).
func ParsePageInfo(f Frame) (*PageInfo, error) {
	if f.ID != CmdGetPageInfo {
		return nil, fmt.Errorf("not a page info frame: ID 0x%02X", f.ID)
	}
	if len(f.Payload) < 13 {
		return nil, &ResponseLengthError{ID: f.ID, Got: len(f.Payload), Want: 13}
	}
	return &PageInfo{
		StimCount: int(binary.BigEndian.Uint16(f.Payload[8:10])),
		Page:      f.Payload[12],
	}, nil
}
