package protocol

import "fmt"

// Model identifies the stimulator hardware model reported in status frames.
type Model byte

const (
	ModelR30        Model = 0
	ModelX100       Model = 1
	ModelR30Option  Model = 2
	ModelX100Option Model = 3
	ModelR30Mono    Model = 4
	ModelMST        Model = 5
)

func (m Model) String() string {
	switch m {
	case ModelR30:
		return "R30"
	case ModelX100:
		return "X100"
	case ModelR30Option:
		return "R30+Option"
	case ModelX100Option:
		return "X100+Option"
	case ModelR30Mono:
		return "R30+Option+Mono"
	case ModelMST:
		return "MST"
	default:
		return fmt.Sprintf("Model(%d)", byte(m))
	}
}

// Mode is the stimulator operating mode. Modes other than Standard require
// the MagOption unit.
type Mode byte

const (
	ModeStandard Mode = 0
	ModePower    Mode = 1
	ModeTwin     Mode = 2
	ModeDual     Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "Standard"
	case ModePower:
		return "Power"
	case ModeTwin:
		return "Twin"
	case ModeDual:
		return "Dual"
	default:
		return fmt.Sprintf("Mode(%d)", byte(m))
	}
}

// Waveform is the stimulation pulse shape.
type Waveform byte

const (
	WaveformMonophasic    Waveform = 0
	WaveformBiphasic      Waveform = 1
	WaveformHalfSine      Waveform = 2
	WaveformBiphasicBurst Waveform = 3
)

func (w Waveform) String() string {
	switch w {
	case WaveformMonophasic:
		return "Monophasic"
	case WaveformBiphasic:
		return "Biphasic"
	case WaveformHalfSine:
		return "HalfSine"
	case WaveformBiphasicBurst:
		return "Biphasic Burst"
	default:
		return fmt.Sprintf("Waveform(%d)", byte(w))
	}
}

// Direction is the coil current direction.
type Direction byte

const (
	DirectionNormal  Direction = 0
	DirectionReverse Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionNormal:
		return "Normal"
	case DirectionReverse:
		return "Reverse"
	default:
		return fmt.Sprintf("Direction(%d)", byte(d))
	}
}

// TimingControl selects how a train sequence is started.
type TimingControl byte

const (
	TimingSequence     TimingControl = 0
	TimingExternalTrig TimingControl = 1
	TimingExtSeqStart  TimingControl = 2
	TimingExtSeqCont   TimingControl = 3
)

func (t TimingControl) String() string {
	switch t {
	case TimingSequence:
		return "Sequence"
	case TimingExternalTrig:
		return "External Trig"
	case TimingExtSeqStart:
		return "Ext Seq. Start"
	case TimingExtSeqCont:
		return "Ext Seq. Cont"
	default:
		return fmt.Sprintf("TimingControl(%d)", byte(t))
	}
}

// Frame is a decoded wire frame: the command ID and its payload, already
// validated against length, markers and checksum.
type Frame struct {
	// ID is the command ID (first body byte)
	ID byte

	// Payload is the body after the command ID
	Payload []byte
}

// StateFlags is the packed device state byte carried in every
// acknowledgement frame:
//
//	bits 0-1: mode, bits 2-3: waveform, bit 4: enabled, bits 5-7: model
type StateFlags struct {
	Mode     Mode
	Waveform Waveform
	Enabled  bool
	Model    Model
}

// Status is the full status report (frame IDs 0x00 and 0x05).
type Status struct {
	Flags        StateFlags
	SerialNumber uint32

	// Temperature is the coil temperature in degrees Celsius
	Temperature int

	// CoilType is the raw connected-coil type code
	CoilType byte

	// AmplitudeA and AmplitudeB are the current amplitudes in percent
	AmplitudeA int
	AmplitudeB int

	// TrainRunning reports an active train sequence. Only present on the
	// extended report (ID 0x05); false on the short one.
	TrainRunning bool
}

// AmplitudeAck acknowledges a set-amplitude command (frame ID 0x01).
type AmplitudeAck struct {
	AmplitudeA int
	AmplitudeB int
	Flags      StateFlags
}

// FireAck acknowledges a pulse or train trigger (frame ID 0x02) and carries
// the realized coil current gradient.
type FireAck struct {
	// DiDtA and DiDtB are the realized di/dt in A/µs per channel
	DiDtA int
	DiDtB int
	Flags StateFlags
}

// EnableAck acknowledges an enable/disable command (frame ID 0x03).
type EnableAck struct {
	Temperature int
	CoilType    byte
	Flags       StateFlags
}

// MEP is a motor-evoked-potential measurement pushed by the stimulator
// while its MEP page is active (frame ID 0x04).
type MEP struct {
	// MaxAmplitudeUV and MinAmplitudeUV are the peak amplitudes in µV
	MaxAmplitudeUV uint32
	MinAmplitudeUV uint32

	// TimeOfMaxUS is the latency of the maximum in µs
	TimeOfMaxUS uint32
}

// PulseParams are the stimulation pulse parameters (frame ID 0x09).
type PulseParams struct {
	Model            Model
	Mode             Mode
	CurrentDirection Direction
	Waveform         Waveform

	// BurstPulses is the number of pulses per burst (2-5),
	// meaningful for WaveformBiphasicBurst only
	BurstPulses int

	// IPI is the inter-pulse interval in ms
	IPI float64

	// BARatio is the pulse B/A amplitude ratio for Twin mode
	BARatio float64
}

// TrainParams are the train sequence parameters (frame ID 0x0B).
type TrainParams struct {
	TimingControl TimingControl

	// RepRate is the pulse rate within a train in pulses per second
	RepRate float64

	// PulsesInTrain is the number of pulses (or bursts) per train
	PulsesInTrain int

	// NumberOfTrains is the number of trains in the sequence
	NumberOfTrains int

	// ITI is the inter-train interval in seconds
	ITI float64

	// PriorWarningSound beeps before each train when set
	PriorWarningSound bool
}

// TriggerDelays are the input/output trigger and charge delays
// (frame ID 0x0A).
type TriggerDelays struct {
	// InputMS and OutputMS are trigger delays in ms; output may be negative
	InputMS  float64
	OutputMS float64

	// ChargeMS is the recharge delay in ms
	ChargeMS int
}

// PageInfo reports the current display page and the stimulation counter
// (frame ID 0x0C).
type PageInfo struct {
	StimCount int
	Page      byte
}

// PageChange reports a page switch or train start/stop (frame ID 0x08).
type PageChange struct {
	Page         byte
	TrainRunning bool
	Flags        StateFlags
}
