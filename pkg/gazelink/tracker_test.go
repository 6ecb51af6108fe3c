// ABOUTME: Integration tests for the tracker facade
// ABOUTME: Runs the full stack against the reference server
package gazelink

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/buffer"
	"github.com/GazeLink-Protocol/gazelink-go/internal/client"
	"github.com/GazeLink-Protocol/gazelink-go/internal/server"
	internalsync "github.com/GazeLink-Protocol/gazelink-go/internal/sync"
	"github.com/stretchr/testify/require"
)

// startTracker connects a tracker to a fresh reference server.
func startTracker(t *testing.T, serverConfig server.Config, config Config) *Tracker {
	t.Helper()
	ts := httptest.NewServer(server.New(serverConfig))
	t.Cleanup(ts.Close)

	config.ServerAddr = strings.TrimPrefix(ts.URL, "http://")
	if config.SyncProbeInterval == 0 {
		config.SyncProbeInterval = time.Millisecond
	}
	tr := New(config)
	t.Cleanup(tr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	return tr
}

func TestConnectSynchronizesClock(t *testing.T) {
	tr := startTracker(t, server.Config{ClockOffsetMs: 500}, Config{})

	stats := tr.Stats()
	require.True(t, stats.ClockSynced)
	require.InDelta(t, 500, stats.ClockOffsetMs, 20)
	require.True(t, tr.Status().Connected)
}

func TestTrackingBuffersSamples(t *testing.T) {
	var gazeCount atomic.Int64
	tr := startTracker(t,
		server.Config{SampleRateHz: 100},
		Config{OnGaze: func(buffer.Sample) { gazeCount.Add(1) }},
	)

	ctx := context.Background()
	require.NoError(t, tr.StartTracking(ctx))
	require.True(t, tr.Status().Streaming)

	require.Eventually(t, func() bool {
		_, ok := tr.CurrentGaze()
		return ok && gazeCount.Load() >= 5
	}, 3*time.Second, 20*time.Millisecond)

	current, ok := tr.CurrentGaze()
	require.True(t, ok)
	require.GreaterOrEqual(t, current.X, 0.0)
	require.LessOrEqual(t, current.X, 1.0)
	require.Positive(t, current.ArrivalTimestamp)

	require.NoError(t, tr.StopTracking(ctx))
	require.False(t, tr.Status().Streaming)
}

func TestDeviceClockAcquisition(t *testing.T) {
	tr := startTracker(t, server.Config{SampleRateHz: 200, DeviceOffsetMs: 120, ClockOffsetMs: 500}, Config{})

	ctx := context.Background()
	require.NoError(t, tr.StartTracking(ctx))

	// The bridge syncs itself once the server has live samples.
	require.Eventually(t, func() bool {
		return tr.Stats().Device.Synced
	}, 3*time.Second, 50*time.Millisecond)

	stats := tr.Stats()
	require.InDelta(t, 120, stats.Device.OffsetMs, 20)

	// Buffered samples now carry a derived client-domain timestamp close to
	// their arrival time.
	require.Eventually(t, func() bool {
		s, ok := tr.CurrentGaze()
		return ok && s.HasDerived
	}, 3*time.Second, 20*time.Millisecond)

	s, _ := tr.CurrentGaze()
	require.InDelta(t, s.ArrivalTimestamp, s.DerivedTimestamp, 50)
}

func TestDeviceSyncBeforeClockSyncFails(t *testing.T) {
	ts := httptest.NewServer(server.New(server.Config{}))
	t.Cleanup(ts.Close)

	tr := New(Config{ServerAddr: strings.TrimPrefix(ts.URL, "http://")})
	t.Cleanup(tr.Close)

	err := tr.SynchronizeDeviceClock(context.Background())
	require.ErrorIs(t, err, internalsync.ErrNotSynced)
}

func TestValidateAlignment(t *testing.T) {
	tr := startTracker(t, server.Config{SampleRateHz: 200, DeviceOffsetMs: 120}, Config{})

	ctx := context.Background()
	require.NoError(t, tr.StartTracking(ctx))

	require.Eventually(t, func() bool {
		return tr.Stats().Device.Synced && tr.Stats().Buffer.Size >= 20
	}, 3*time.Second, 50*time.Millisecond)

	report, err := tr.ValidateAlignment()
	require.NoError(t, err)
	require.Positive(t, report.Count)
	require.InDelta(t, 0, report.MeanMs, 50)
}

func TestMarkersAndCalibrationFlow(t *testing.T) {
	tr := startTracker(t, server.Config{}, Config{})
	ctx := context.Background()

	require.NoError(t, tr.SendMarker(ctx, "trial_start", map[string]any{"trial": 1}))
	require.NoError(t, tr.StartCalibration(ctx))
	require.NoError(t, tr.CollectCalibrationPoint(ctx, 0.1, 0.9))
	require.NoError(t, tr.ComputeCalibration(ctx))
	require.NoError(t, tr.StartValidation(ctx))
	require.NoError(t, tr.CollectValidationPoint(ctx, 0.5, 0.5))
	require.NoError(t, tr.ComputeValidation(ctx))
}

func TestBufferWindowQueries(t *testing.T) {
	tr := startTracker(t, server.Config{SampleRateHz: 100}, Config{})
	ctx := context.Background()

	require.NoError(t, tr.StartTracking(ctx))
	require.Eventually(t, func() bool {
		return tr.Stats().Buffer.Size >= 10
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, tr.StopTracking(ctx))

	all := tr.Recent(time.Minute)
	require.NotEmpty(t, all)

	first := all[0].EffectiveTimestamp()
	last := all[len(all)-1].EffectiveTimestamp()
	require.Len(t, tr.Range(first, last), len(all))
	require.Len(t, tr.TrialWindow(first, last), len(all))

	tr.ClearBuffer()
	require.Zero(t, tr.Stats().Buffer.Size)
	_, ok := tr.CurrentGaze()
	require.False(t, ok)
}

func TestStateChangeCallback(t *testing.T) {
	states := make(chan bool, 8)
	tr := startTracker(t, server.Config{}, Config{
		OnStateChange: func(s client.Status) { states <- s.Streaming },
	})

	require.NoError(t, tr.StartTracking(context.Background()))
	require.Eventually(t, func() bool {
		select {
		case streaming := <-states:
			return streaming
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}
