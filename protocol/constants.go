package protocol

// Frame structure constants.
const (
	// StartOfFrame is the frame start marker (0xFE)
	StartOfFrame = 0xFE

	// EndOfFrame is the frame end marker (0xFF)
	EndOfFrame = 0xFF

	// MinFrameSize is the minimum frame size in bytes:
	// SOF(1) + LEN(1) + CRC(1) + EOF(1), i.e. a frame with an empty body
	MinFrameSize = 4

	// MaxBodySize is the largest body the 1-byte length field can declare
	MaxBodySize = 255
)

// Command IDs (first body byte of an outgoing frame).
const (
	// CmdGetCoilStatus requests coil type and temperature
	CmdGetCoilStatus = 0x00

	// CmdSetAmplitude sets stimulation amplitude in percent (channels A and B)
	CmdSetAmplitude = 0x01

	// CmdSetEnabled enables or disables the stimulator (the coil safety switch)
	CmdSetEnabled = 0x02

	// CmdFirePulse triggers a single pulse or burst
	CmdFirePulse = 0x03

	// CmdFireTrain starts a train sequence
	CmdFireTrain = 0x04

	// CmdGetStatus requests the full status report
	CmdGetStatus = 0x05

	// CmdSetPage switches the page shown on the stimulator display
	CmdSetPage = 0x07

	// CmdPulseParams queries (sub-ID 0) or sets (sub-ID 1) pulse parameters
	CmdPulseParams = 0x09

	// CmdTriggerDelays queries or sets input/output/charge trigger delays
	CmdTriggerDelays = 0x0A

	// CmdTrainParams queries or sets train sequence parameters
	CmdTrainParams = 0x0B

	// CmdGetPageInfo requests the current page and stimulation counter
	CmdGetPageInfo = 0x0C
)

// Response IDs that have no outgoing counterpart. The stimulator shares one
// ID space between commands and responses; acknowledgements reuse the IDs
// above (an amplitude ack carries ID 0x01, a fire ack 0x02, an enable ack
// 0x03), and the IDs below arrive unsolicited or on specific pages only.
const (
	// RspAmplitude acknowledges a set-amplitude command
	RspAmplitude = 0x01

	// RspFire acknowledges a pulse, train or protocol trigger. Note the
	// crossed numbering: the fire command is 0x03 but its ack is 0x02.
	RspFire = 0x02

	// RspEnable acknowledges an enable/disable command (command 0x02)
	RspEnable = 0x03

	// RspMEP carries a motor-evoked-potential measurement (MEP page only)
	RspMEP = 0x04

	// RspAmplitudeScale reports the original amplitude pair (Protocol page only)
	RspAmplitudeScale = 0x06

	// RspAmplitudeGain reports the protocol amplitude gain (Protocol page only)
	RspAmplitudeGain = 0x07

	// RspPageChange reports a page switch or train start/stop
	RspPageChange = 0x08
)

// Sub-IDs for parameterized commands (pulse, delays, train).
const (
	// ParamQuery requests the current values
	ParamQuery = 0x00

	// ParamSet writes new values
	ParamSet = 0x01
)

// Display page IDs accepted by CmdSetPage.
const (
	PageMain       = 1
	PageTiming     = 2
	PageTrig       = 3
	PageConfig     = 4
	PageDownload   = 6
	PageProtocol   = 7
	PageMEP        = 8
	PageService    = 13
	PageTreatment  = 15
	PageTreatSel   = 16
	PageService2   = 17
	PageCalculator = 19
)

// Amplitude bounds in percent of maximum stimulator output.
const (
	MinAmplitude = 0
	MaxAmplitude = 100
)

// Burst size bounds for biphasic-burst waveforms.
const (
	MinBurstPulses = 2
	MaxBurstPulses = 5
)
