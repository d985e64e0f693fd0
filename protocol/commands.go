package protocol

import "encoding/binary"

// buildFrame wraps a body in the wire framing:
//
//	[SOF][LEN][BODY...][CRC][EOF]
//
// The body always starts with the command ID.
func buildFrame(body []byte) []byte {
	frame := make([]byte, 0, len(body)+MinFrameSize)
	frame = append(frame, StartOfFrame, byte(len(body)))
	frame = append(frame, body...)
	frame = append(frame, Checksum(body), EndOfFrame)
	return frame
}

// appendUint16 appends v in big-endian order, the byte order the stimulator
// uses for all multi-byte body fields.
func appendUint16(body []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(body, b[:]...)
}

// BuildGetCoilStatusCmd constructs a coil status request.
//
// Frame structure:
//
//	[SOF][LEN=1][0x00][CRC][EOF]
func BuildGetCoilStatusCmd() ([]byte, error) {
	return buildFrame([]byte{CmdGetCoilStatus}), nil
}

// BuildGetStatusCmd constructs a full status request. The device answers
// with the extended status report (frame ID 0x05).
//
// Frame structure:
//
//	[SOF][LEN=1][0x05][CRC][EOF]
func BuildGetStatusCmd() ([]byte, error) {
	return buildFrame([]byte{CmdGetStatus}), nil
}

// BuildSetAmplitudeCmd constructs a set-amplitude command for both channels.
// Channel B is only meaningful in Twin/Dual modes; pass 0 otherwise.
// Amplitudes must be within [MinAmplitude, MaxAmplitude] percent.
//
// Frame structure:
//
//	[SOF][LEN=3][0x01][AMP_A][AMP_B][CRC][EOF]
func BuildSetAmplitudeCmd(amplitudeA, amplitudeB int) ([]byte, error) {
	if amplitudeA < MinAmplitude || amplitudeA > MaxAmplitude {
		return nil, &InvalidParameterError{Param: "amplitude A", Value: amplitudeA,
			Reason: "must be an integer percent from 0 to 100"}
	}
	if amplitudeB < MinAmplitude || amplitudeB > MaxAmplitude {
		return nil, &InvalidParameterError{Param: "amplitude B", Value: amplitudeB,
			Reason: "must be an integer percent from 0 to 100"}
	}
	return buildFrame([]byte{CmdSetAmplitude, byte(amplitudeA), byte(amplitudeB)}), nil
}

// BuildSetEnabledCmd constructs an enable or disable command. Enabling
// charges the coil so a trigger can fire; disabling always discharges.
//
// Frame structure:
//
//	[SOF][LEN=2][0x02][0x00|0x01][CRC][EOF]
func BuildSetEnabledCmd(enabled bool) ([]byte, error) {
	v := byte(0)
	if enabled {
		v = 1
	}
	return buildFrame([]byte{CmdSetEnabled, v}), nil
}

// BuildFirePulseCmd constructs a single pulse/burst trigger. Every frame
// sent produces exactly one physical stimulation when the device is
// enabled; callers must never send it speculatively.
//
// Frame structure:
//
//	[SOF][LEN=1][0x03][CRC][EOF]
func BuildFirePulseCmd() ([]byte, error) {
	return buildFrame([]byte{CmdFirePulse}), nil
}

// BuildFireTrainCmd constructs a train sequence trigger. The device only
// honors it while the Timing or Protocol page is active.
//
// Frame structure:
//
//	[SOF][LEN=1][0x04][CRC][EOF]
func BuildFireTrainCmd() ([]byte, error) {
	return buildFrame([]byte{CmdFireTrain}), nil
}

// BuildSetPageCmd constructs a display page switch command.
//
// Frame structure:
//
//	[SOF][LEN=2][0x07][PAGE][CRC][EOF]
func BuildSetPageCmd(page byte) ([]byte, error) {
	switch page {
	case PageMain, PageTiming, PageTrig, PageConfig, PageDownload, PageProtocol,
		PageMEP, PageService, PageTreatment, PageTreatSel, PageService2, PageCalculator:
	default:
		return nil, &InvalidParameterError{Param: "page", Value: page,
			Reason: "not a known display page ID"}
	}
	return buildFrame([]byte{CmdSetPage, page}), nil
}

// BuildGetPageInfoCmd constructs a page/stimulation-counter request.
//
// Frame structure:
//
//	[SOF][LEN=2][0x0C][0x00][CRC][EOF]
func BuildGetPageInfoCmd() ([]byte, error) {
	return buildFrame([]byte{CmdGetPageInfo, ParamQuery}), nil
}

// BuildPulseParamsQueryCmd constructs a pulse parameter query.
//
// Frame structure:
//
//	[SOF][LEN=2][0x09][0x00][CRC][EOF]
func BuildPulseParamsQueryCmd() ([]byte, error) {
	return buildFrame([]byte{CmdPulseParams, ParamQuery}), nil
}

// BuildSetPulseParamsCmd constructs a pulse parameter set command.
//
// Frame structure:
//
//	[SOF][LEN=11][0x09][0x01][MODEL][MODE][DIR][WAVE][5-BURST][IPI*10:2][RATIO*100:2][CRC][EOF]
//
// IPI is encoded in tenths of a millisecond and the B/A ratio in
// hundredths, both big-endian.
func BuildSetPulseParamsCmd(p PulseParams) ([]byte, error) {
	if p.Model > ModelMST {
		return nil, &InvalidParameterError{Param: "model", Value: p.Model, Reason: "unknown model code"}
	}
	if p.Mode > ModeDual {
		return nil, &InvalidParameterError{Param: "mode", Value: p.Mode, Reason: "unknown mode code"}
	}
	if p.CurrentDirection > DirectionReverse {
		return nil, &InvalidParameterError{Param: "current direction", Value: p.CurrentDirection,
			Reason: "must be Normal or Reverse"}
	}
	if p.Waveform > WaveformBiphasicBurst {
		return nil, &InvalidParameterError{Param: "waveform", Value: p.Waveform, Reason: "unknown waveform code"}
	}
	if p.BurstPulses < MinBurstPulses || p.BurstPulses > MaxBurstPulses {
		return nil, &InvalidParameterError{Param: "burst pulses", Value: p.BurstPulses,
			Reason: "must be 2 to 5"}
	}
	if p.IPI < 0.5 || p.IPI > 3000 {
		return nil, &InvalidParameterError{Param: "IPI", Value: p.IPI,
			Reason: "must be 0.5 to 3000 ms"}
	}
	if p.BARatio < 0.2 || p.BARatio > 5.0 {
		return nil, &InvalidParameterError{Param: "B/A ratio", Value: p.BARatio,
			Reason: "must be 0.2 to 5.0"}
	}

	body := []byte{CmdPulseParams, ParamSet,
		byte(p.Model), byte(p.Mode), byte(p.CurrentDirection), byte(p.Waveform),
		byte(MaxBurstPulses - p.BurstPulses)}
	body = appendUint16(body, uint16(p.IPI*10+0.5))
	body = appendUint16(body, uint16(p.BARatio*100+0.5))
	return buildFrame(body), nil
}

// BuildTriggerDelaysQueryCmd constructs a trigger delay query.
//
// Frame structure:
//
//	[SOF][LEN=2][0x0A][0x00][CRC][EOF]
func BuildTriggerDelaysQueryCmd() ([]byte, error) {
	return buildFrame([]byte{CmdTriggerDelays, ParamQuery}), nil
}

// BuildSetTriggerDelaysCmd constructs a trigger delay set command.
//
// Frame structure:
//
//	[SOF][LEN=8][0x0A][0x01][IN*10:2][OUT*10:2][CHARGE:2][CRC][EOF]
//
// The output delay may be negative and is encoded as a two's complement
// 16-bit value in tenths of a millisecond.
func BuildSetTriggerDelaysCmd(d TriggerDelays) ([]byte, error) {
	if d.InputMS < 0 || d.InputMS > 6500 {
		return nil, &InvalidParameterError{Param: "input delay", Value: d.InputMS,
			Reason: "must be 0 to 6500 ms"}
	}
	if d.OutputMS < -100 || d.OutputMS > 100 {
		return nil, &InvalidParameterError{Param: "output delay", Value: d.OutputMS,
			Reason: "must be -100 to 100 ms"}
	}
	if d.ChargeMS < 0 || d.ChargeMS > 12000 {
		return nil, &InvalidParameterError{Param: "charge delay", Value: d.ChargeMS,
			Reason: "must be 0 to 12000 ms"}
	}

	out := int16(d.OutputMS*10 + copysign(0.5, d.OutputMS))
	body := []byte{CmdTriggerDelays, ParamSet}
	body = appendUint16(body, uint16(d.InputMS*10+0.5))
	body = appendUint16(body, uint16(out))
	body = appendUint16(body, uint16(d.ChargeMS))
	return buildFrame(body), nil
}

func copysign(mag, sign float64) float64 {
	if sign < 0 {
		return -mag
	}
	return mag
}

// BuildTrainParamsQueryCmd constructs a train parameter query.
//
// Frame structure:
//
//	[SOF][LEN=2][0x0B][0x00][CRC][EOF]
func BuildTrainParamsQueryCmd() ([]byte, error) {
	return buildFrame([]byte{CmdTrainParams, ParamQuery}), nil
}

// BuildSetTrainParamsCmd constructs a train parameter set command.
//
// Frame structure:
//
//	[SOF][LEN=12][0x0B][0x01][TC][RATE*10:2][PULSES:2][TRAINS:2][ITI*10:2][WARN][CRC][EOF]
func BuildSetTrainParamsCmd(p TrainParams) ([]byte, error) {
	if p.TimingControl > TimingExtSeqCont {
		return nil, &InvalidParameterError{Param: "timing control", Value: p.TimingControl,
			Reason: "unknown timing control code"}
	}
	if p.RepRate < 0.1 || p.RepRate > 100 {
		return nil, &InvalidParameterError{Param: "rep rate", Value: p.RepRate,
			Reason: "must be 0.1 to 100 pps"}
	}
	if p.PulsesInTrain < 1 || p.PulsesInTrain > 2000 {
		return nil, &InvalidParameterError{Param: "pulses in train", Value: p.PulsesInTrain,
			Reason: "must be 1 to 2000"}
	}
	if p.NumberOfTrains < 1 || p.NumberOfTrains > 500 {
		return nil, &InvalidParameterError{Param: "number of trains", Value: p.NumberOfTrains,
			Reason: "must be 1 to 500"}
	}
	if p.ITI < 0.1 || p.ITI > 300 {
		return nil, &InvalidParameterError{Param: "inter-train interval", Value: p.ITI,
			Reason: "must be 0.1 to 300 s"}
	}

	warn := byte(0)
	if p.PriorWarningSound {
		warn = 1
	}
	body := []byte{CmdTrainParams, ParamSet, byte(p.TimingControl)}
	body = appendUint16(body, uint16(p.RepRate*10+0.5))
	body = appendUint16(body, uint16(p.PulsesInTrain))
	body = appendUint16(body, uint16(p.NumberOfTrains))
	body = appendUint16(body, uint16(p.ITI*10+0.5))
	body = append(body, warn)
	return buildFrame(body), nil
}
