// ABOUTME: Tracker facade wiring channel, clock sync, and sample buffer
// ABOUTME: Handles gaze routing, re-sync on reconnect, and experiment operations
package gazelink

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/buffer"
	"github.com/GazeLink-Protocol/gazelink-go/internal/client"
	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
	internalsync "github.com/GazeLink-Protocol/gazelink-go/internal/sync"
	"github.com/google/uuid"
)

// deviceSyncDelay is how long after tracking starts the tracker waits
// before asking for the server-device offset; the server needs live
// samples to estimate one.
const deviceSyncDelay = 500 * time.Millisecond

// Config holds tracker configuration. Zero values select defaults.
type Config struct {
	ServerAddr string
	ClientID   string // default: fresh UUID

	BufferCapacity int           // default 10000
	ConnectTimeout time.Duration // default 5s
	RequestTimeout time.Duration // default 2s

	ReconnectAttempts int           // default 5
	ReconnectDelay    time.Duration // default 1s

	SyncProbes        int           // default 8
	SyncProbeInterval time.Duration // default 50ms

	// OnGaze is invoked for every streamed sample after buffering.
	OnGaze func(buffer.Sample)

	// OnError receives non-fatal failures (re-sync after reconnect,
	// undecodable frames).
	OnError func(error)

	// OnStateChange receives connection status snapshots on transitions.
	OnStateChange func(client.Status)
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.New().String()
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 10000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Second
	}
}

// Stats is a snapshot across the tracker's components.
type Stats struct {
	Buffer        buffer.Stats
	ClockOffsetMs float64
	ClockSynced   bool
	Device        internalsync.DeviceOffsetStats
}

// Tracker is the high-level client for a GazeLink bridge.
type Tracker struct {
	config  Config
	channel *client.Channel
	clock   *internalsync.ClockSync
	bridge  *internalsync.DeviceBridge
	buffer  *buffer.Buffer

	ctx    context.Context
	cancel context.CancelFunc
}

var nowMs = func() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// New creates a tracker. Connect must be called before use.
func New(config Config) *Tracker {
	config.applyDefaults()

	channel := client.NewChannel(client.Config{
		ServerAddr:        config.ServerAddr,
		ClientID:          config.ClientID,
		ConnectTimeout:    config.ConnectTimeout,
		ReconnectAttempts: config.ReconnectAttempts,
		ReconnectDelay:    config.ReconnectDelay,
	})
	clock := internalsync.NewClockSync(channel, internalsync.Config{
		Probes:        config.SyncProbes,
		ProbeInterval: config.SyncProbeInterval,
		ProbeTimeout:  config.RequestTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		config:  config,
		channel: channel,
		clock:   clock,
		bridge:  internalsync.NewDeviceBridge(channel, clock, config.RequestTimeout),
		buffer:  buffer.New(config.BufferCapacity),
		ctx:     ctx,
		cancel:  cancel,
	}

	channel.On(protocol.TypeGazeData, t.handleGaze)
	channel.On(protocol.TypeError, t.handleServerError)
	channel.On(client.EventReconnected, t.handleReconnected)
	channel.On(client.EventDisconnected, t.handleDisconnected)

	return t
}

// Connect opens the channel and performs the initial clock synchronization.
func (t *Tracker) Connect(ctx context.Context) error {
	if err := t.channel.Connect(); err != nil {
		return err
	}
	t.notifyState()

	if err := t.clock.Synchronize(ctx); err != nil {
		return fmt.Errorf("initial clock sync: %w", err)
	}
	return nil
}

// StartTracking asks the server to stream gaze samples. The streaming flag
// flips only once the server confirms, so an unconfirmed request never
// advances state. Device clock acquisition is kicked off shortly after,
// once live samples give the server something to estimate from.
func (t *Tracker) StartTracking(ctx context.Context) error {
	if err := t.request(ctx, protocol.NewStartTrackingRequest()); err != nil {
		return err
	}
	t.channel.SetStreaming(true)
	t.notifyState()

	go func() {
		select {
		case <-time.After(deviceSyncDelay):
		case <-t.ctx.Done():
			return
		}
		if err := t.bridge.Synchronize(t.ctx); err != nil {
			log.Printf("Tracker: device clock sync: %v", err)
			t.notifyError(err)
		}
	}()

	return nil
}

// StopTracking asks the server to stop streaming.
func (t *Tracker) StopTracking(ctx context.Context) error {
	if err := t.request(ctx, protocol.NewStopTrackingRequest()); err != nil {
		return err
	}
	t.channel.SetStreaming(false)
	t.notifyState()
	return nil
}

// SynchronizeClock re-runs the client-server probe sequence.
func (t *Tracker) SynchronizeClock(ctx context.Context) error {
	return t.clock.Synchronize(ctx)
}

// SynchronizeDeviceClock fetches the server-device offset estimate. Fails
// with sync.ErrNotSynced until SynchronizeClock has completed.
func (t *Tracker) SynchronizeDeviceClock(ctx context.Context) error {
	return t.bridge.Synchronize(ctx)
}

// SendMarker stamps an experiment event on the server record.
func (t *Tracker) SendMarker(ctx context.Context, label string, data map[string]any) error {
	return t.request(ctx, protocol.NewMarkerRequest(label, nowMs(), data))
}

// StartCalibration begins a calibration run on the server.
func (t *Tracker) StartCalibration(ctx context.Context) error {
	return t.request(ctx, protocol.NewCalibrationControlRequest(protocol.TypeCalibrationStart))
}

// CollectCalibrationPoint submits one fixation point during calibration.
func (t *Tracker) CollectCalibrationPoint(ctx context.Context, x, y float64) error {
	return t.request(ctx, protocol.NewCalibrationPointRequest(
		protocol.TypeCalibrationPoint, protocol.Point{X: x, Y: y}, nowMs()))
}

// ComputeCalibration finalizes the calibration run.
func (t *Tracker) ComputeCalibration(ctx context.Context) error {
	return t.request(ctx, protocol.NewCalibrationControlRequest(protocol.TypeCalibrationCompute))
}

// StartValidation begins a validation run on the server.
func (t *Tracker) StartValidation(ctx context.Context) error {
	return t.request(ctx, protocol.NewCalibrationControlRequest(protocol.TypeValidationStart))
}

// CollectValidationPoint submits one fixation point during validation.
func (t *Tracker) CollectValidationPoint(ctx context.Context, x, y float64) error {
	return t.request(ctx, protocol.NewCalibrationPointRequest(
		protocol.TypeValidationPoint, protocol.Point{X: x, Y: y}, nowMs()))
}

// ComputeValidation finalizes the validation run.
func (t *Tracker) ComputeValidation(ctx context.Context) error {
	return t.request(ctx, protocol.NewCalibrationControlRequest(protocol.TypeValidationCompute))
}

// request sends a correlated control message and checks its acknowledgment.
func (t *Tracker) request(ctx context.Context, msg protocol.Outbound) error {
	env, err := t.channel.SendAndWait(ctx, msg, t.config.RequestTimeout)
	if err != nil {
		return err
	}
	ack, err := protocol.DecodeAckResponse(env)
	if err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("%s refused: %s", msg.MessageType(), ack.Error)
	}
	return nil
}

// CurrentGaze returns the most recent buffered sample.
func (t *Tracker) CurrentGaze() (buffer.Sample, bool) {
	return t.buffer.Current()
}

// Recent returns the buffered samples from the trailing window.
func (t *Tracker) Recent(window time.Duration) []buffer.Sample {
	return t.buffer.Recent(window)
}

// Range returns the buffered samples in [start, end] (client clock, ms).
func (t *Tracker) Range(start, end float64) []buffer.Sample {
	return t.buffer.Range(start, end)
}

// TrialWindow returns the buffered samples within an experimental interval.
func (t *Tracker) TrialWindow(start, end float64) []buffer.Sample {
	return t.buffer.TrialWindow(start, end)
}

// EvictOlderThan proactively trims buffered samples older than age.
func (t *Tracker) EvictOlderThan(age time.Duration) {
	t.buffer.EvictOlderThan(age)
}

// ClearBuffer empties the sample buffer.
func (t *Tracker) ClearBuffer() {
	t.buffer.Clear()
}

// ValidateAlignment cross-checks the composed clock offset against the
// buffered samples' arrival times.
func (t *Tracker) ValidateAlignment() (internalsync.AlignmentReport, error) {
	return t.bridge.ValidateAlignment(t.buffer.Samples())
}

// Status returns a snapshot of the connection state.
func (t *Tracker) Status() client.Status {
	return t.channel.Status()
}

// Stats returns a snapshot across the tracker's components.
func (t *Tracker) Stats() Stats {
	offset, synced := t.clock.Offset()
	return Stats{
		Buffer:        t.buffer.Stats(),
		ClockOffsetMs: offset,
		ClockSynced:   synced,
		Device:        t.bridge.Stats(),
	}
}

// Close disconnects and releases the tracker.
func (t *Tracker) Close() {
	t.cancel()
	t.channel.Disconnect()
}

// handleGaze buffers one streamed sample, converting its device timestamp
// into the client clock domain when the bridge is synced.
func (t *Tracker) handleGaze(env *protocol.Envelope) {
	sample, err := protocol.DecodeGazeSample(env)
	if err != nil {
		log.Printf("Tracker: %v", err)
		t.notifyError(err)
		return
	}

	s := buffer.Sample{
		X:                sample.X,
		Y:                sample.Y,
		DeviceTimestamp:  sample.Timestamp,
		ArrivalTimestamp: nowMs(),
		LeftValid:        sample.LeftValid,
		RightValid:       sample.RightValid,
	}
	if derived, err := t.bridge.ToLocalTime(sample.Timestamp); err == nil {
		s.DerivedTimestamp = derived
		s.HasDerived = true
	}

	t.buffer.Add(s)

	if t.config.OnGaze != nil {
		t.config.OnGaze(s)
	}
}

// handleServerError surfaces unsolicited error frames.
func (t *Tracker) handleServerError(env *protocol.Envelope) {
	msg, err := protocol.DecodeErrorMessage(env)
	if err != nil {
		log.Printf("Tracker: %v", err)
		return
	}
	log.Printf("Tracker: server error: %s", msg.Error)
	t.notifyError(fmt.Errorf("server error: %s", msg.Error))
}

// handleReconnected re-acquires both clock hops after the channel comes
// back. Offsets from the previous connection describe a dead epoch, so
// both are dropped before re-running. Failures leave the state unsynced
// and are reported as warnings; streaming can continue with degraded
// timestamp precision.
func (t *Tracker) handleReconnected(*protocol.Envelope) {
	t.notifyState()

	go func() {
		t.clock.Reset()
		t.bridge.Reset()

		ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
		defer cancel()

		if err := t.clock.Synchronize(ctx); err != nil {
			log.Printf("Tracker: clock re-sync after reconnect: %v", err)
			t.notifyError(err)
			return
		}
		if err := t.bridge.Synchronize(ctx); err != nil {
			log.Printf("Tracker: device re-sync after reconnect: %v", err)
			t.notifyError(err)
		}
	}()
}

func (t *Tracker) handleDisconnected(*protocol.Envelope) {
	t.notifyState()
}

func (t *Tracker) notifyState() {
	if t.config.OnStateChange != nil {
		t.config.OnStateChange(t.channel.Status())
	}
}

func (t *Tracker) notifyError(err error) {
	if t.config.OnError != nil {
		t.config.OnError(err)
	}
}
