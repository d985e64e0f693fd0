package stimulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neurokit/go-magventure/protocol"
	"github.com/neurokit/go-magventure/transport"
)

// State is the session's view of the device.
type State int

const (
	// StateDisconnected means no handshake has completed yet.
	StateDisconnected State = iota

	// StateDisabled means the output stage is off; stimulation commands
	// are refused by the device.
	StateDisabled

	// StateEnabled means the output stage is on but the host interlock
	// has not been armed.
	StateEnabled

	// StateArmed means a single Fire or FireTrain is permitted.
	StateArmed

	// StateUnknown means an acknowledgement timed out and the session's
	// view may not match the hardware. Only Resync is accepted.
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateDisabled:
		return "Disabled"
	case StateEnabled:
		return "Enabled"
	case StateArmed:
		return "Armed"
	case StateUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the single owner of one serial connection to a stimulator.
// All device state reads and writes go through it; it never pipelines
// commands because the protocol has no way to correlate out-of-order
// replies.
type Session struct {
	config Config
	port   transport.Port

	mu      sync.Mutex
	state   State
	rbuf    []byte
	status  protocol.Status
	lastMEP *protocol.MEP
}

// New creates a Session over an open port. The session takes exclusive
// ownership of the port; nothing else may read or write it.
//
// Example:
//
//	sess := stimulator.New(port,
//	    stimulator.WithLogger(logger.Get("info")),
//	    stimulator.WithAckTimeout(2*time.Second),
//	)
func New(port transport.Port, opts ...Option) *Session {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		config: cfg,
		port:   port,
		state:  StateDisconnected,
	}
}

// Connect performs the initial status handshake and adopts the device's
// reported state. Stale bytes from a previous session are flushed first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected {
		return &StateError{Op: "connect", State: s.state}
	}

	if err := s.port.Flush(); err != nil {
		return fmt.Errorf("connect: flush: %w", err)
	}
	s.rbuf = s.rbuf[:0]

	cmd, err := protocol.BuildGetStatusCmd()
	if err != nil {
		return err
	}
	frame, err := s.roundTrip(ctx, "connect", cmd, protocol.CmdGetStatus, s.config.HandshakeTimeout)
	if err != nil {
		// No session was established, so there is no stale view to
		// distrust. Stay Disconnected rather than Unknown.
		s.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	status, err := protocol.ParseStatus(frame)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	s.logInfo("connected",
		"model", status.Flags.Model.String(),
		"serial", status.SerialNumber,
		"enabled", status.Flags.Enabled,
		"amplitude_a", status.AmplitudeA,
	)
	s.adoptStatus(status)
	return nil
}

// Close releases the port. If the session believes the output stage is
// still on it sends a best-effort disable first, so dropping a session
// never leaves an enabled device behind by default.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnabled || s.state == StateArmed {
		s.disarm()
		if cmd, err := protocol.BuildSetEnabledCmd(false); err == nil {
			if _, err := s.roundTrip(context.Background(), "close", cmd, protocol.RspEnable, s.config.AckTimeout); err != nil {
				s.logWarn("close: best-effort disable failed", "error", err.Error())
			}
		}
	}

	s.setState(StateDisconnected)
	return s.port.Close()
}

// State returns the session's current view of the device.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Amplitude returns the last device-confirmed amplitude for channel A.
// It is never a locally cached guess: the value comes from the most recent
// acknowledgement or status report.
func (s *Session) Amplitude() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.AmplitudeA
}

// LastMEP returns the most recent motor-evoked-potential measurement, or
// nil if none has arrived.
func (s *Session) LastMEP() *protocol.MEP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMEP
}

// Enable turns the output stage on.
func (s *Session) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("enable"); err != nil {
		return err
	}

	cmd, err := protocol.BuildSetEnabledCmd(true)
	if err != nil {
		return err
	}
	frame, err := s.roundTrip(ctx, "enable", cmd, protocol.RspEnable, s.config.AckTimeout)
	if err != nil {
		return err
	}

	ack, err := protocol.ParseEnableAck(frame)
	if err != nil {
		return err
	}
	if !ack.Flags.Enabled {
		return fmt.Errorf("enable: device refused, still disabled (coil temp %d C)", ack.Temperature)
	}
	return nil
}

// Disable turns the output stage off. Disabling from Armed first drops the
// arm so the enable/disable path never passes through an armed state.
func (s *Session) Disable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("disable"); err != nil {
		return err
	}
	s.disarm()

	cmd, err := protocol.BuildSetEnabledCmd(false)
	if err != nil {
		return err
	}
	frame, err := s.roundTrip(ctx, "disable", cmd, protocol.RspEnable, s.config.AckTimeout)
	if err != nil {
		return err
	}

	ack, err := protocol.ParseEnableAck(frame)
	if err != nil {
		return err
	}
	if ack.Flags.Enabled {
		return fmt.Errorf("disable: device still reports enabled")
	}
	return nil
}

// SetAmplitude sets the channel A output amplitude in percent of maximum
// stimulator output. It is refused while Armed; callers must Disarm first
// so an armed device never has its intensity changed underneath it.
func (s *Session) SetAmplitude(ctx context.Context, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("set amplitude"); err != nil {
		return err
	}
	if s.state == StateArmed {
		return &StateError{Op: "set amplitude", State: s.state}
	}

	cmd, err := protocol.BuildSetAmplitudeCmd(percent, 0)
	if err != nil {
		return err
	}
	frame, err := s.roundTrip(ctx, "set amplitude", cmd, protocol.RspAmplitude, s.config.AckTimeout)
	if err != nil {
		return err
	}

	ack, err := protocol.ParseAmplitudeAck(frame)
	if err != nil {
		return err
	}
	if ack.AmplitudeA != percent {
		return fmt.Errorf("set amplitude: requested %d%%, device confirmed %d%%", percent, ack.AmplitudeA)
	}
	return nil
}

// Arm latches the fire interlock. The device has no arm command, so Arm
// performs a fresh status round trip and only latches if the device
// confirms the output stage is enabled. Arming an armed session is a
// no-op.
func (s *Session) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("arm"); err != nil {
		return err
	}
	if s.state == StateArmed {
		return nil
	}
	if s.state != StateEnabled {
		return &StateError{Op: "arm", State: s.state}
	}

	status, err := s.queryStatus(ctx, "arm")
	if err != nil {
		return err
	}
	if !status.Flags.Enabled {
		return &StateError{Op: "arm", State: StateDisabled}
	}

	s.setState(StateArmed)
	return nil
}

// Disarm drops the fire interlock. It is purely local and always succeeds;
// disarming an unarmed session is a no-op.
func (s *Session) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarm()
}

// Fire triggers exactly one stimulation pulse. It is legal only while
// Armed, and a successful pulse consumes the arm, so every pulse requires
// an explicit Arm. Fire must never be retried on timeout: the pulse may
// have been delivered, and a retry would double-stimulate.
func (s *Session) Fire(ctx context.Context) (*protocol.FireAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateArmed {
		if s.state == StateUnknown {
			return nil, fmt.Errorf("fire: %w", ErrNeedsResync)
		}
		return nil, &StateError{Op: "fire", State: s.state}
	}

	cmd, err := protocol.BuildFirePulseCmd()
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "fire", cmd, protocol.RspFire, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}

	ack, err := protocol.ParseFireAck(frame)
	if err != nil {
		return nil, err
	}

	// The pulse consumed the arm. Only downgrade from Armed: the ack
	// flags may already have moved the session to Disabled.
	s.disarm()
	s.logDebug("pulse delivered", "didt_a", ack.DiDtA, "amplitude", s.status.AmplitudeA)
	return ack, nil
}

// FireTrain starts the configured pulse train. Like Fire it is legal only
// while Armed and consumes the arm. The device acknowledges the start with
// a status report; the train itself runs to completion on the device.
func (s *Session) FireTrain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateArmed {
		if s.state == StateUnknown {
			return fmt.Errorf("fire train: %w", ErrNeedsResync)
		}
		return &StateError{Op: "fire train", State: s.state}
	}

	cmd, err := protocol.BuildFireTrainCmd()
	if err != nil {
		return err
	}
	if _, err := s.port.Write(cmd); err != nil {
		return fmt.Errorf("fire train: write: %w", err)
	}

	status, err := s.queryStatus(ctx, "fire train")
	if err != nil {
		return err
	}
	if !status.TrainRunning {
		return fmt.Errorf("fire train: device did not start the train")
	}

	s.disarm()
	return nil
}

// SetPulseParams configures waveform, current direction, burst count and
// inter-pulse interval. The device echoes the accepted configuration.
func (s *Session) SetPulseParams(ctx context.Context, p protocol.PulseParams) (*protocol.PulseParamsEcho, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("set pulse parameters"); err != nil {
		return nil, err
	}
	if s.state == StateArmed {
		return nil, &StateError{Op: "set pulse parameters", State: s.state}
	}

	cmd, err := protocol.BuildSetPulseParamsCmd(p)
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "set pulse parameters", cmd, protocol.CmdPulseParams, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParsePulseParams(frame)
}

// PulseParams queries the current pulse configuration.
func (s *Session) PulseParams(ctx context.Context) (*protocol.PulseParamsEcho, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("query pulse parameters"); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildPulseParamsQueryCmd()
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "query pulse parameters", cmd, protocol.CmdPulseParams, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParsePulseParams(frame)
}

// SetTrainParams configures the repetition rate, pulses per train, train
// count and inter-train interval used by FireTrain.
func (s *Session) SetTrainParams(ctx context.Context, p protocol.TrainParams) (*protocol.TrainParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("set train parameters"); err != nil {
		return nil, err
	}
	if s.state == StateArmed {
		return nil, &StateError{Op: "set train parameters", State: s.state}
	}

	cmd, err := protocol.BuildSetTrainParamsCmd(p)
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "set train parameters", cmd, protocol.CmdTrainParams, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParseTrainParams(frame)
}

// SetTriggerDelays configures the external trigger input/output delays.
func (s *Session) SetTriggerDelays(ctx context.Context, d protocol.TriggerDelays) (*protocol.TriggerDelays, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("set trigger delays"); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildSetTriggerDelaysCmd(d)
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "set trigger delays", cmd, protocol.CmdTriggerDelays, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParseTriggerDelays(frame)
}

// SetPage switches the device user interface to the given page.
func (s *Session) SetPage(ctx context.Context, page byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("set page"); err != nil {
		return err
	}

	cmd, err := protocol.BuildSetPageCmd(page)
	if err != nil {
		return err
	}
	frame, err := s.roundTrip(ctx, "set page", cmd, protocol.RspPageChange, s.config.AckTimeout)
	if err != nil {
		return err
	}

	pc, err := protocol.ParsePageChange(frame)
	if err != nil {
		return err
	}
	if pc.Page != page {
		return fmt.Errorf("set page: requested page %d, device on page %d", page, pc.Page)
	}
	return nil
}

// PageInfo queries the current page and lifetime stimulus counter.
func (s *Session) PageInfo(ctx context.Context) (*protocol.PageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("query page info"); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildGetPageInfoCmd()
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "query page info", cmd, protocol.CmdGetPageInfo, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParsePageInfo(frame)
}

// Status performs a status round trip and returns the device's report.
func (s *Session) Status(ctx context.Context) (*protocol.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("get status"); err != nil {
		return nil, err
	}
	return s.queryStatus(ctx, "get status")
}

// CoilStatus queries the basic coil report (command 0x00): coil type,
// temperature and the packed state flags, without the extended fields of
// Status.
func (s *Session) CoilStatus(ctx context.Context) (*protocol.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady("get coil status"); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildGetCoilStatusCmd()
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, "get coil status", cmd, protocol.CmdGetCoilStatus, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatus(frame)
}

// Resync recovers from the Unknown state: it re-reads the device status
// and adopts whatever the hardware reports. The session always comes back
// disarmed; the caller must re-arm explicitly.
func (s *Session) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return &StateError{Op: "resync", State: s.state}
	}

	status, err := s.queryStatus(ctx, "resync")
	if err != nil {
		return err
	}

	s.adoptStatus(status)
	s.logInfo("resynchronized", "state", s.state.String(), "amplitude_a", status.AmplitudeA)
	return nil
}

// ensureReady rejects operations in states where the session must not
// issue stimulation-path commands.
func (s *Session) ensureReady(op string) error {
	switch s.state {
	case StateDisconnected:
		return &StateError{Op: op, State: s.state}
	case StateUnknown:
		return fmt.Errorf("%s: %w", op, ErrNeedsResync)
	}
	return nil
}

// queryStatus runs a get-status round trip and parses the report.
// Caller must hold s.mu.
func (s *Session) queryStatus(ctx context.Context, op string) (*protocol.Status, error) {
	cmd, err := protocol.BuildGetStatusCmd()
	if err != nil {
		return nil, err
	}
	frame, err := s.roundTrip(ctx, op, cmd, protocol.CmdGetStatus, s.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatus(frame)
}

// roundTrip writes cmd and reads frames until one with wantID arrives or
// the deadline expires. Every valid frame seen on the way, solicited or
// not, updates the cached device view. Corrupt frames are discarded and
// the read retried up to the configured limit; the command itself is
// never re-sent, because a re-send could double-fire. Once cmd is on the
// wire, every exit that leaves its acknowledgement unconfirmed degrades
// the session to Unknown: the device may have executed the command, so
// the cached view can no longer be trusted. Caller must hold s.mu.
func (s *Session) roundTrip(ctx context.Context, op string, cmd []byte, wantID byte, timeout time.Duration) (protocol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, fmt.Errorf("%s: %w", op, err)
	}
	deadline := time.Now().Add(timeout)

	if _, err := s.port.Write(cmd); err != nil {
		return protocol.Frame{}, fmt.Errorf("%s: write: %w", op, err)
	}

	corrupt := 0
	var lastCorrupt error
	tmp := make([]byte, 256)

	for {
		for len(s.rbuf) > 0 {
			frame, consumed, err := protocol.ParseFrame(s.rbuf)
			if errors.Is(err, protocol.ErrFrameIncomplete) {
				break
			}
			s.rbuf = s.rbuf[consumed:]

			var corruptErr *protocol.CorruptFrameError
			if errors.As(err, &corruptErr) {
				corrupt++
				lastCorrupt = err
				s.logWarn("discarding corrupt frame", "op", op, "reason", corruptErr.Reason)
				if corrupt > s.config.FrameRetryLimit {
					s.setState(StateUnknown)
					return protocol.Frame{}, &CorruptLinkError{Op: op, Attempts: corrupt, Last: lastCorrupt}
				}
				continue
			}
			if err != nil {
				// An opcode this driver does not recognize means
				// firmware/driver version skew. That is fatal, not
				// skippable: protocol drift must never be hidden.
				s.logError("unrecognized frame on the wire", "op", op, "id", fmt.Sprintf("0x%02X", frame.ID))
				s.setState(StateUnknown)
				return protocol.Frame{}, fmt.Errorf("%s: %w", op, err)
			}

			corrupt = 0
			s.applyFrame(frame)
			if frame.ID == wantID {
				return frame, nil
			}
			s.logDebug("unsolicited frame", "op", op, "id", fmt.Sprintf("0x%02X", frame.ID))
		}

		if err := ctx.Err(); err != nil {
			s.setState(StateUnknown)
			return protocol.Frame{}, fmt.Errorf("%s: %w", op, err)
		}
		if time.Now().After(deadline) {
			s.setState(StateUnknown)
			return protocol.Frame{}, &AckTimeoutError{Op: op, Timeout: timeout}
		}

		// The port's own read timeout bounds this call, so the loop
		// re-checks ctx and the deadline at that granularity.
		n, err := s.port.Read(tmp)
		if err != nil {
			s.setState(StateUnknown)
			return protocol.Frame{}, fmt.Errorf("%s: read: %w", op, err)
		}
		if n > 0 {
			s.rbuf = append(s.rbuf, tmp[:n]...)
		}
	}
}

// applyFrame folds a validated frame into the cached device view.
// Caller must hold s.mu.
func (s *Session) applyFrame(f protocol.Frame) {
	switch f.ID {
	case protocol.CmdGetCoilStatus, protocol.CmdGetStatus:
		if status, err := protocol.ParseStatus(f); err == nil {
			train := s.status.TrainRunning
			s.status = *status
			if f.ID == protocol.CmdGetCoilStatus {
				s.status.TrainRunning = train
			}
			s.syncEnabled(status.Flags.Enabled)
		}
	case protocol.RspAmplitude:
		if ack, err := protocol.ParseAmplitudeAck(f); err == nil {
			s.status.AmplitudeA = ack.AmplitudeA
			s.status.AmplitudeB = ack.AmplitudeB
			s.status.Flags = ack.Flags
			s.syncEnabled(ack.Flags.Enabled)
		}
	case protocol.RspFire:
		if ack, err := protocol.ParseFireAck(f); err == nil {
			s.status.Flags = ack.Flags
			s.syncEnabled(ack.Flags.Enabled)
		}
	case protocol.RspEnable:
		if ack, err := protocol.ParseEnableAck(f); err == nil {
			s.status.Temperature = ack.Temperature
			s.status.CoilType = ack.CoilType
			s.status.Flags = ack.Flags
			s.syncEnabled(ack.Flags.Enabled)
		}
	case protocol.RspMEP:
		if mep, err := protocol.ParseMEP(f); err == nil {
			s.lastMEP = mep
			if s.config.MEPCallback != nil {
				s.config.MEPCallback(*mep)
			}
		}
	case protocol.RspPageChange:
		if pc, err := protocol.ParsePageChange(f); err == nil {
			s.status.TrainRunning = pc.TrainRunning
			s.status.Flags = pc.Flags
			s.syncEnabled(pc.Flags.Enabled)
		}
	}
}

// syncEnabled reconciles the state machine with the enabled flag the
// device just reported. A disable observed while Armed drops the arm, the
// front panel overrides the host. Caller must hold s.mu.
func (s *Session) syncEnabled(enabled bool) {
	switch {
	case !enabled:
		if s.state == StateArmed {
			s.logWarn("device disabled while armed, dropping arm")
		}
		s.setState(StateDisabled)
	case s.state != StateArmed:
		s.setState(StateEnabled)
	}
}

// adoptStatus replaces the cached view with a fresh device report and
// derives the session state from it. Caller must hold s.mu.
func (s *Session) adoptStatus(status *protocol.Status) {
	s.status = *status
	if status.Flags.Enabled {
		s.setState(StateEnabled)
	} else {
		s.setState(StateDisabled)
	}
}

// disarm drops the arm without touching the device. Caller must hold s.mu.
func (s *Session) disarm() {
	if s.state == StateArmed {
		s.setState(StateEnabled)
	}
}

// setState transitions the state machine. Caller must hold s.mu.
func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	old := s.state
	s.state = next
	s.logDebug("state transition", "from", old.String(), "to", next.String())
	if s.config.StateCallback != nil {
		s.config.StateCallback(old, next)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debugw(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Infow(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Warnw(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Errorw(msg, keysAndValues...)
	}
}
