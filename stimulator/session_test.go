package stimulator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neurokit/go-magventure/protocol"
)

// MockPort simulates the stimulator's serial link for testing. Each queued
// chunk is delivered by one Read call, so tests can exercise fragmented
// and back-to-back frame delivery.
type MockPort struct {
	writeBuf *bytes.Buffer
	chunks   [][]byte
	chunkIdx int
	readErr  error
	writeErr error
	flushed  bool
	closed   bool
}

func NewMockPort() *MockPort {
	return &MockPort{writeBuf: new(bytes.Buffer)}
}

func (m *MockPort) Read(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.chunkIdx < len(m.chunks) {
		chunk := m.chunks[m.chunkIdx]
		m.chunkIdx++
		copy(p, chunk)
		return len(chunk), nil
	}
	// Nothing to deliver; a real port returns 0 bytes after its read
	// timeout.
	return 0, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuf.Write(p)
}

func (m *MockPort) Close() error {
	m.closed = true
	return nil
}

func (m *MockPort) Flush() error {
	m.flushed = true
	return nil
}

func (m *MockPort) Queue(chunks ...[]byte) {
	m.chunks = append(m.chunks, chunks...)
}

// deviceFrame wraps a body the way the device does.
func deviceFrame(body ...byte) []byte {
	frame := []byte{protocol.StartOfFrame, byte(len(body))}
	frame = append(frame, body...)
	return append(frame, protocol.Checksum(body), protocol.EndOfFrame)
}

// flagsByte packs an X100 state byte with the given enabled bit.
func flagsByte(enabled bool) byte {
	b := byte(1)<<5 | byte(protocol.WaveformBiphasic)<<2 // model X100, biphasic
	if enabled {
		b |= 1 << 4
	}
	return b
}

func statusFrame(enabled bool, ampA int, trainRunning bool) []byte {
	payload := make([]byte, 14)
	payload[0] = flagsByte(enabled)
	payload[4] = 21 // coil temperature
	payload[5] = 60 // coil type
	payload[6] = byte(ampA)
	if trainRunning {
		payload[13] = 1
	}
	return deviceFrame(append([]byte{protocol.CmdGetStatus}, payload...)...)
}

func enableAckFrame(enabled bool) []byte {
	return deviceFrame(protocol.RspEnable, 21, 60, flagsByte(enabled))
}

func amplitudeAckFrame(ampA int, enabled bool) []byte {
	return deviceFrame(protocol.RspAmplitude, byte(ampA), 0, flagsByte(enabled))
}

func fireAckFrame(didtA int) []byte {
	return deviceFrame(protocol.RspFire, byte(didtA), 0, flagsByte(true))
}

func mepFrame(maxUV, minUV, tMaxUS uint32) []byte {
	body := []byte{protocol.RspMEP}
	for _, v := range []uint32{maxUV, minUV, tMaxUS} {
		body = append(body, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return deviceFrame(body...)
}

// connectedSession returns a session that has completed its handshake with
// the device reporting the given enabled state.
func connectedSession(t *testing.T, enabled bool, opts ...Option) (*Session, *MockPort) {
	t.Helper()

	port := NewMockPort()
	port.Queue(statusFrame(enabled, 0, false))

	opts = append([]Option{WithAckTimeout(50 * time.Millisecond)}, opts...)
	sess := New(port, opts...)
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return sess, port
}

func TestConnect(t *testing.T) {
	sess, port := connectedSession(t, false)

	if !port.flushed {
		t.Error("Connect() did not flush stale input")
	}
	if got := sess.State(); got != StateDisabled {
		t.Errorf("State() = %s, want Disabled", got)
	}

	wantCmd, _ := protocol.BuildGetStatusCmd()
	if !bytes.Equal(port.writeBuf.Bytes(), wantCmd) {
		t.Errorf("Connect() wrote % X, want % X", port.writeBuf.Bytes(), wantCmd)
	}
}

func TestConnectAdoptsEnabledDevice(t *testing.T) {
	sess, _ := connectedSession(t, true)
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() = %s, want Enabled", got)
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	port := NewMockPort() // never responds
	sess := New(port, WithHandshakeTimeout(20*time.Millisecond))

	err := sess.Connect(context.Background())
	var te *AckTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Connect() error = %v, want *AckTimeoutError", err)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("State() after failed handshake = %s, want Disconnected", got)
	}
}

func TestEnableDisable(t *testing.T) {
	sess, port := connectedSession(t, false)

	port.Queue(enableAckFrame(true))
	if err := sess.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after Enable = %s, want Enabled", got)
	}

	port.Queue(enableAckFrame(false))
	if err := sess.Disable(context.Background()); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got := sess.State(); got != StateDisabled {
		t.Errorf("State() after Disable = %s, want Disabled", got)
	}
}

func TestEnableRefusedByDevice(t *testing.T) {
	sess, port := connectedSession(t, false)

	// Device acks but reports the output stage still off, e.g. coil
	// overtemperature lockout.
	port.Queue(enableAckFrame(false))
	if err := sess.Enable(context.Background()); err == nil {
		t.Fatal("Enable() succeeded despite device staying disabled")
	}
	if got := sess.State(); got != StateDisabled {
		t.Errorf("State() = %s, want Disabled", got)
	}
}

func TestSetAmplitude(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(amplitudeAckFrame(60, true))
	if err := sess.SetAmplitude(context.Background(), 60); err != nil {
		t.Fatalf("SetAmplitude() error = %v", err)
	}
	if got := sess.Amplitude(); got != 60 {
		t.Errorf("Amplitude() = %d, want 60", got)
	}
}

func TestSetAmplitudeDeviceMismatch(t *testing.T) {
	sess, port := connectedSession(t, true)

	// Device clamps the request.
	port.Queue(amplitudeAckFrame(55, true))
	if err := sess.SetAmplitude(context.Background(), 60); err == nil {
		t.Fatal("SetAmplitude() succeeded despite device confirming another value")
	}
}

func TestSetAmplitudeRejectsLocalRangeViolation(t *testing.T) {
	sess, port := connectedSession(t, true)

	written := port.writeBuf.Len()
	err := sess.SetAmplitude(context.Background(), 101)
	var pe *protocol.InvalidParameterError
	if !errors.As(err, &pe) {
		t.Fatalf("SetAmplitude(101) error = %v, want *InvalidParameterError", err)
	}
	if port.writeBuf.Len() != written {
		t.Error("invalid amplitude was sent to the device")
	}
}

func TestArmFireCycle(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if got := sess.State(); got != StateArmed {
		t.Fatalf("State() after Arm = %s, want Armed", got)
	}

	port.Queue(fireAckFrame(88))
	ack, err := sess.Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if ack.DiDtA != 88 {
		t.Errorf("Fire() di/dt = %d, want 88", ack.DiDtA)
	}

	// The pulse consumed the arm.
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after Fire = %s, want Enabled", got)
	}
	if _, err := sess.Fire(context.Background()); err == nil {
		t.Fatal("second Fire() without re-arm succeeded")
	}
}

func TestArmRequiresEnabledDevice(t *testing.T) {
	sess, port := connectedSession(t, true)

	// The session thinks the device is enabled, the fresh status report
	// says otherwise (operator hit the front panel).
	port.Queue(statusFrame(false, 0, false))
	err := sess.Arm(context.Background())
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("Arm() error = %v, want *StateError", err)
	}
	if got := sess.State(); got != StateDisabled {
		t.Errorf("State() = %s, want Disabled", got)
	}
}

// Fire must be refused from every state except Armed, no matter how the
// session got there.
func TestFireOnlyFromArmed(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		sess := New(NewMockPort())
		if _, err := sess.Fire(context.Background()); err == nil {
			t.Fatal("Fire() succeeded while disconnected")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		sess, _ := connectedSession(t, false)
		if _, err := sess.Fire(context.Background()); err == nil {
			t.Fatal("Fire() succeeded while disabled")
		}
	})

	t.Run("enabled but not armed", func(t *testing.T) {
		sess, _ := connectedSession(t, true)
		var se *StateError
		if _, err := sess.Fire(context.Background()); !errors.As(err, &se) {
			t.Fatalf("Fire() error = %v, want *StateError", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		sess, _ := connectedSession(t, true,
			WithAckTimeout(10*time.Millisecond))
		// Unanswered command degrades the session.
		sess.SetAmplitude(context.Background(), 40)

		if got := sess.State(); got != StateUnknown {
			t.Fatalf("State() = %s, want Unknown", got)
		}
		if _, err := sess.Fire(context.Background()); !errors.Is(err, ErrNeedsResync) {
			t.Fatalf("Fire() error = %v, want ErrNeedsResync", err)
		}
	})
}

func TestDisarmDropsArm(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	sess.Disarm()
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after Disarm = %s, want Enabled", got)
	}

	// Disarming again is a no-op.
	sess.Disarm()
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after second Disarm = %s, want Enabled", got)
	}
}

func TestDisableFromArmedDropsArmFirst(t *testing.T) {
	var transitions []string
	sess, port := connectedSession(t, true, WithStateCallback(func(old, new State) {
		transitions = append(transitions, old.String()+">"+new.String())
	}))

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	port.Queue(enableAckFrame(false))
	if err := sess.Disable(context.Background()); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got := sess.State(); got != StateDisabled {
		t.Fatalf("State() = %s, want Disabled", got)
	}

	// The callback sees the connect handshake first; after that, the
	// disable path must pass through Enabled, never jump from Armed
	// straight to Disabled.
	want := []string{"Disconnected>Enabled", "Enabled>Armed", "Armed>Enabled", "Enabled>Disabled"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestSetAmplitudeRefusedWhileArmed(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	var se *StateError
	if err := sess.SetAmplitude(context.Background(), 60); !errors.As(err, &se) {
		t.Fatalf("SetAmplitude() while armed error = %v, want *StateError", err)
	}
}

func TestAckTimeoutDegradesAndResyncRecovers(t *testing.T) {
	sess, port := connectedSession(t, true,
		WithAckTimeout(10*time.Millisecond))

	err := sess.SetAmplitude(context.Background(), 40)
	var te *AckTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("SetAmplitude() error = %v, want *AckTimeoutError", err)
	}
	if !errors.Is(err, ErrNeedsResync) {
		t.Error("AckTimeoutError does not match ErrNeedsResync")
	}
	if got := sess.State(); got != StateUnknown {
		t.Fatalf("State() = %s, want Unknown", got)
	}

	// Everything except Resync is refused.
	if err := sess.Enable(context.Background()); !errors.Is(err, ErrNeedsResync) {
		t.Fatalf("Enable() in Unknown error = %v, want ErrNeedsResync", err)
	}
	if _, err := sess.Status(context.Background()); !errors.Is(err, ErrNeedsResync) {
		t.Fatalf("Status() in Unknown error = %v, want ErrNeedsResync", err)
	}

	// Resync adopts whatever the hardware reports, here enabled with the
	// amplitude from the command whose ack went missing.
	port.Queue(statusFrame(true, 40, false))
	if err := sess.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after Resync = %s, want Enabled", got)
	}
	if got := sess.Amplitude(); got != 40 {
		t.Errorf("Amplitude() after Resync = %d, want 40", got)
	}
}

func TestCorruptFramesAreRetriedNotTheCommand(t *testing.T) {
	sess, port := connectedSession(t, true)

	garbage := []byte{0x00, 0x13, 0x37}
	port.Queue(garbage, amplitudeAckFrame(60, true))

	writesBefore := port.writeBuf.Len()
	if err := sess.SetAmplitude(context.Background(), 60); err != nil {
		t.Fatalf("SetAmplitude() error = %v", err)
	}

	wantCmd, _ := protocol.BuildSetAmplitudeCmd(60, 0)
	if got := port.writeBuf.Len() - writesBefore; got != len(wantCmd) {
		t.Errorf("wrote %d bytes, want %d: the command must not be re-sent", got, len(wantCmd))
	}
}

func TestCorruptLinkGivesUp(t *testing.T) {
	sess, port := connectedSession(t, true, WithFrameRetryLimit(2))

	// Four bad frames in a row, one past the limit.
	bad := deviceFrame(protocol.RspAmplitude, 60, 0, flagsByte(true))
	bad[len(bad)-2] ^= 0xFF // break the checksum
	port.Queue(bad, bad, bad, bad)

	err := sess.SetAmplitude(context.Background(), 60)
	var le *CorruptLinkError
	if !errors.As(err, &le) {
		t.Fatalf("SetAmplitude() error = %v, want *CorruptLinkError", err)
	}
	if got := sess.State(); got != StateUnknown {
		t.Errorf("State() = %s, want Unknown: the set command may have been executed", got)
	}
}

func TestCorruptAckAfterFireDegradesToUnknown(t *testing.T) {
	sess, port := connectedSession(t, true, WithFrameRetryLimit(2))

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	bad := fireAckFrame(90)
	bad[len(bad)-2] ^= 0xFF // break the checksum
	port.Queue(bad, bad, bad, bad)

	_, err := sess.Fire(context.Background())
	var le *CorruptLinkError
	if !errors.As(err, &le) {
		t.Fatalf("Fire() error = %v, want *CorruptLinkError", err)
	}
	if got := sess.State(); got != StateUnknown {
		t.Fatalf("State() = %s, want Unknown: the pulse may already have fired", got)
	}

	// The first pulse may have been delivered even though its ack was
	// lost. A second trigger must be refused until the hardware state
	// has been re-read.
	if _, err := sess.Fire(context.Background()); !errors.Is(err, ErrNeedsResync) {
		t.Fatalf("Fire() after lost ack error = %v, want ErrNeedsResync", err)
	}

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after Resync = %s, want Enabled", got)
	}
}

func TestReadErrorAfterFireDegradesToUnknown(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	port.readErr = errors.New("device unplugged")
	if _, err := sess.Fire(context.Background()); err == nil {
		t.Fatal("Fire() with failing port returned nil error")
	}
	if got := sess.State(); got != StateUnknown {
		t.Fatalf("State() = %s, want Unknown: the pulse may already have fired", got)
	}
	if _, err := sess.Fire(context.Background()); !errors.Is(err, ErrNeedsResync) {
		t.Fatalf("Fire() after read error = %v, want ErrNeedsResync", err)
	}
}

func TestFragmentedFrameDelivery(t *testing.T) {
	sess, port := connectedSession(t, true)

	ack := amplitudeAckFrame(60, true)
	port.Queue(ack[:3], ack[3:])

	if err := sess.SetAmplitude(context.Background(), 60); err != nil {
		t.Fatalf("SetAmplitude() with fragmented ack error = %v", err)
	}
}

func TestUnsolicitedMEPDuringRoundTrip(t *testing.T) {
	var captured []protocol.MEP
	sess, port := connectedSession(t, true, WithMEPCallback(func(m protocol.MEP) {
		captured = append(captured, m)
	}))

	port.Queue(mepFrame(500, 10, 20000), amplitudeAckFrame(60, true))
	if err := sess.SetAmplitude(context.Background(), 60); err != nil {
		t.Fatalf("SetAmplitude() error = %v", err)
	}

	mep := sess.LastMEP()
	if mep == nil || mep.MaxAmplitudeUV != 500 {
		t.Fatalf("LastMEP() = %+v, want max 500", mep)
	}
	if len(captured) != 1 {
		t.Fatalf("MEP callback fired %d times, want 1", len(captured))
	}
}

func TestUnknownOpcodeIsFatal(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(deviceFrame(0xF0, 0x01), amplitudeAckFrame(60, true))

	err := sess.SetAmplitude(context.Background(), 60)
	var ue *protocol.UnknownCommandError
	if !errors.As(err, &ue) {
		t.Fatalf("SetAmplitude() error = %v, want *UnknownCommandError", err)
	}
	if ue.ID != 0xF0 {
		t.Errorf("UnknownCommandError.ID = 0x%02X, want 0xF0", ue.ID)
	}
}

func TestFrontPanelDisableObservedMidRoundTrip(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	// The operator disables the device right after the pulse; the fire
	// ack carries the disabled flag and the session must follow it down
	// instead of assuming Enabled.
	port.Queue(deviceFrame(protocol.RspFire, 0, 0, flagsByte(false)))

	if _, err := sess.Fire(context.Background()); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if got := sess.State(); got != StateDisabled {
		t.Errorf("State() = %s, want Disabled", got)
	}
}

func TestFireTrain(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(statusFrame(true, 50, false))
	if err := sess.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	// Train start is confirmed by a status report with the train flag.
	port.Queue(statusFrame(true, 50, true))
	if err := sess.FireTrain(context.Background()); err != nil {
		t.Fatalf("FireTrain() error = %v", err)
	}
	if got := sess.State(); got != StateEnabled {
		t.Errorf("State() after FireTrain = %s, want Enabled", got)
	}
}

func TestContextCancellation(t *testing.T) {
	sess, _ := connectedSession(t, true, WithAckTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sess.SetAmplitude(ctx, 60); !errors.Is(err, context.Canceled) {
		t.Fatalf("SetAmplitude() error = %v, want context.Canceled", err)
	}
}

func TestCoilStatus(t *testing.T) {
	sess, port := connectedSession(t, true)

	payload := []byte{flagsByte(true), 0, 0, 0, 35, 72, 50, 0}
	port.Queue(deviceFrame(append([]byte{protocol.CmdGetCoilStatus}, payload...)...))

	status, err := sess.CoilStatus(context.Background())
	if err != nil {
		t.Fatalf("CoilStatus() error = %v", err)
	}
	if status.Temperature != 35 || status.CoilType != 72 {
		t.Errorf("CoilStatus() = %+v, want temperature 35, coil 72", status)
	}
}

func TestCloseDisablesEnabledDevice(t *testing.T) {
	sess, port := connectedSession(t, true)

	port.Queue(enableAckFrame(false))
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.closed {
		t.Error("Close() did not close the port")
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("State() after Close = %s, want Disconnected", got)
	}

	// The disable command went out before the port closed.
	wantDisable, _ := protocol.BuildSetEnabledCmd(false)
	if !bytes.HasSuffix(port.writeBuf.Bytes(), wantDisable) {
		t.Error("Close() did not send a best-effort disable")
	}
}

func TestCloseFromDisabledSendsNothing(t *testing.T) {
	sess, port := connectedSession(t, false)

	written := port.writeBuf.Len()
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if port.writeBuf.Len() != written {
		t.Error("Close() issued commands from the Disabled state")
	}
}
