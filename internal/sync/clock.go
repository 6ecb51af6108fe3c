// ABOUTME: Client-server clock synchronization via round-trip probes
// ABOUTME: Takes the median of K probe offsets to resist latency outliers
package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	gosync "sync"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
)

// Requester is the slice of the RPC channel the synchronizers need.
type Requester interface {
	SendAndWait(ctx context.Context, msg protocol.Outbound, timeout time.Duration) (*protocol.Envelope, error)
}

// Config holds probe tuning for a synchronization run.
type Config struct {
	Probes        int           // round trips per run, default 8
	ProbeInterval time.Duration // delay between probes, default 50ms
	ProbeTimeout  time.Duration // per-probe response deadline, default 1s
}

func (c *Config) applyDefaults() {
	if c.Probes == 0 {
		c.Probes = 8
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 50 * time.Millisecond
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = time.Second
	}
}

// minProbeSamples is the fewest successful probes a run can tolerate.
const minProbeSamples = 3

// ClockSync estimates the offset between the client clock and the server
// clock: serverTime = clientTime + offset. The offset is replaced wholesale
// by each synchronization run, never adjusted incrementally.
type ClockSync struct {
	requester Requester
	config    Config

	mu       gosync.RWMutex
	offsetMs float64
	synced   bool
}

// nowMs is swappable in tests.
var nowMs = func() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// NewClockSync creates a synchronizer that probes over the given requester.
func NewClockSync(requester Requester, config Config) *ClockSync {
	config.applyDefaults()
	return &ClockSync{requester: requester, config: config}
}

// Synchronize runs one probe sequence and installs the median offset. Each
// probe sends the local send time, receives the server time, and estimates
// one-way latency as half the round trip. Probes are spaced out so the
// transport cannot coalesce them into a burst. Individual probe failures
// are tolerated down to minProbeSamples successes.
func (cs *ClockSync) Synchronize(ctx context.Context) error {
	offsets := make([]float64, 0, cs.config.Probes)
	var lastErr error

	for i := 0; i < cs.config.Probes; i++ {
		if i > 0 {
			select {
			case <-time.After(cs.config.ProbeInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		t1 := nowMs()
		env, err := cs.requester.SendAndWait(ctx, protocol.NewTimeSyncRequest(t1), cs.config.ProbeTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("ClockSync: probe %d/%d failed: %v", i+1, cs.config.Probes, err)
			lastErr = err
			continue
		}

		resp, err := protocol.DecodeTimeSyncResponse(env)
		if err != nil {
			log.Printf("ClockSync: probe %d/%d unusable: %v", i+1, cs.config.Probes, err)
			lastErr = err
			continue
		}

		t4 := nowMs()
		latency := (t4 - t1) / 2
		offsets = append(offsets, resp.ServerTime-(t1+latency))
	}

	if len(offsets) < minProbeSamples {
		return fmt.Errorf("clock sync: %d of %d probes succeeded (need %d): %w",
			len(offsets), cs.config.Probes, minProbeSamples, lastErr)
	}

	offset := median(offsets)

	cs.mu.Lock()
	cs.offsetMs = offset
	cs.synced = true
	cs.mu.Unlock()

	log.Printf("ClockSync: synchronized, offset=%+.2fms from %d probes", offset, len(offsets))
	return nil
}

// Offset returns the current offset and whether a run has completed.
func (cs *ClockSync) Offset() (float64, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offsetMs, cs.synced
}

// ToServerTime converts a client timestamp (ms) into the server clock
// domain. Fails with ErrNotSynced before the first completed run.
func (cs *ClockSync) ToServerTime(local float64) (float64, error) {
	offset, ok := cs.Offset()
	if !ok {
		return 0, ErrNotSynced
	}
	return local + offset, nil
}

// ToLocalTime converts a server timestamp (ms) into the client clock domain.
func (cs *ClockSync) ToLocalTime(remote float64) (float64, error) {
	offset, ok := cs.Offset()
	if !ok {
		return 0, ErrNotSynced
	}
	return remote - offset, nil
}

// Reset discards the current epoch, forcing re-acquisition.
func (cs *ClockSync) Reset() {
	cs.mu.Lock()
	cs.offsetMs = 0
	cs.synced = false
	cs.mu.Unlock()
}

// median returns the median of values. The input slice is not modified.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
