// ABOUTME: Two-hop clock bridge composing client-server and server-device offsets
// ABOUTME: Converts between client time and device time with alignment diagnostics
package sync

import (
	"context"
	"fmt"
	"log"
	"math"
	gosync "sync"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/buffer"
	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
)

// DeviceOffsetStats is a snapshot of the server's server-device offset
// estimate as last recorded by Synchronize.
type DeviceOffsetStats struct {
	OffsetMs    float64 // server - device, ms
	SampleCount int
	StdDevMs    float64
	MinMs       float64
	MaxMs       float64
	Synced      bool
}

// AlignmentReport summarizes residuals between independently derived
// timestamps; see ValidateAlignment.
type AlignmentReport struct {
	Count    int
	MeanMs   float64
	StdDevMs float64
	MinMs    float64
	MaxMs    float64
}

// DeviceBridge converts between client time and device time. The server
// derives the server-device offset by pairing its receive time with the
// device-embedded time on live samples; the bridge composes that with the
// client-server offset owned by ClockSync:
//
//	deviceTime = clientTime + (client-server offset) - (server-device offset)
type DeviceBridge struct {
	requester Requester
	clock     *ClockSync
	timeout   time.Duration

	mu    gosync.RWMutex
	stats DeviceOffsetStats
}

// NewDeviceBridge creates a bridge over the given requester and one-hop
// synchronizer.
func NewDeviceBridge(requester Requester, clock *ClockSync, timeout time.Duration) *DeviceBridge {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &DeviceBridge{requester: requester, clock: clock, timeout: timeout}
}

// Synchronize fetches the server's server-device offset estimate. It fails
// with ErrNotSynced before the one-hop sync has completed, without touching
// the channel, and with ErrDeviceOffsetUnavailable when the server has not
// seen enough device samples yet.
func (b *DeviceBridge) Synchronize(ctx context.Context) error {
	if _, ok := b.clock.Offset(); !ok {
		return fmt.Errorf("device clock sync requires server sync first: %w", ErrNotSynced)
	}

	env, err := b.requester.SendAndWait(ctx, protocol.NewDeviceClockOffsetRequest(), b.timeout)
	if err != nil {
		return fmt.Errorf("device clock offset request: %w", err)
	}

	resp, err := protocol.DecodeDeviceClockOffsetResponse(env)
	if err != nil {
		return err
	}
	if resp.Offset == nil || resp.SampleCount == 0 {
		return ErrDeviceOffsetUnavailable
	}

	b.mu.Lock()
	b.stats = DeviceOffsetStats{
		OffsetMs:    *resp.Offset,
		SampleCount: resp.SampleCount,
		StdDevMs:    resp.StdDev,
		MinMs:       resp.Min,
		MaxMs:       resp.Max,
		Synced:      true,
	}
	b.mu.Unlock()

	log.Printf("DeviceBridge: server-device offset %+.2fms over %d samples (stddev %.2fms)",
		*resp.Offset, resp.SampleCount, resp.StdDev)
	return nil
}

// Offset returns the composed client-device offset: deviceTime = clientTime
// + offset. The second return is false until both hops are synced.
func (b *DeviceBridge) Offset() (float64, bool) {
	ab, ok := b.clock.Offset()
	if !ok {
		return 0, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.stats.Synced {
		return 0, false
	}
	return ab - b.stats.OffsetMs, true
}

// ToDeviceTime converts a client timestamp (ms) into the device clock
// domain, failing with ErrNotSynced if either hop is missing.
func (b *DeviceBridge) ToDeviceTime(local float64) (float64, error) {
	offset, ok := b.Offset()
	if !ok {
		return 0, ErrNotSynced
	}
	return local + offset, nil
}

// ToLocalTime converts a device timestamp (ms) into the client clock domain.
func (b *DeviceBridge) ToLocalTime(device float64) (float64, error) {
	offset, ok := b.Offset()
	if !ok {
		return 0, ErrNotSynced
	}
	return device - offset, nil
}

// Stats returns a snapshot of the recorded server-device estimate.
func (b *DeviceBridge) Stats() DeviceOffsetStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// Reset clears only the server-device hop. The client-server hop is owned
// by ClockSync and is reset independently on reconnect.
func (b *DeviceBridge) Reset() {
	b.mu.Lock()
	b.stats = DeviceOffsetStats{}
	b.mu.Unlock()
}

// ValidateAlignment recomputes, for each sample carrying both an arrival
// time and a device timestamp, the residual
//
//	arrivalTime + (client-device offset) - deviceTimestamp
//
// and reports its distribution. Low dispersion indicates the two
// independently derived offsets agree. This is a cross-check only; the
// residuals never feed back into the offset.
func (b *DeviceBridge) ValidateAlignment(samples []buffer.Sample) (AlignmentReport, error) {
	offset, ok := b.Offset()
	if !ok {
		return AlignmentReport{}, ErrNotSynced
	}

	var residuals []float64
	for _, s := range samples {
		if s.ArrivalTimestamp == 0 || s.DeviceTimestamp == 0 {
			continue
		}
		residuals = append(residuals, s.ArrivalTimestamp+offset-s.DeviceTimestamp)
	}
	if len(residuals) == 0 {
		return AlignmentReport{}, nil
	}

	mean := 0.0
	min := residuals[0]
	max := residuals[0]
	for _, r := range residuals {
		mean += r
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	mean /= float64(len(residuals))

	variance := 0.0
	for _, r := range residuals {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(residuals))

	return AlignmentReport{
		Count:    len(residuals),
		MeanMs:   mean,
		StdDevMs: math.Sqrt(variance),
		MinMs:    min,
		MaxMs:    max,
	}, nil
}
