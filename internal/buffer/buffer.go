// ABOUTME: Bounded time-indexed buffer for gaze samples
// ABOUTME: Enforces capacity with amortized batch eviction of the oldest entries
package buffer

import (
	"sync"
	"time"
)

// Sample is one timestamped gaze observation. Samples are immutable after
// insertion; all buffer accessors return copies.
type Sample struct {
	X float64
	Y float64

	// DeviceTimestamp is the device clock reading embedded in the frame, ms.
	DeviceTimestamp float64

	// ArrivalTimestamp is the client wall clock at frame arrival, ms.
	ArrivalTimestamp float64

	// DerivedTimestamp is DeviceTimestamp converted into the client clock
	// domain. Only meaningful when HasDerived is set; conversion requires
	// both clock sync hops to be established.
	DerivedTimestamp float64
	HasDerived       bool

	LeftValid  bool
	RightValid bool
}

// EffectiveTimestamp returns the best available client-domain timestamp:
// the derived timestamp when present, else the raw arrival timestamp. The
// two live in the same clock domain but differ by transport latency, so
// which one a sample carries is deliberately observable via HasDerived.
func (s Sample) EffectiveTimestamp() float64 {
	if s.HasDerived {
		return s.DerivedTimestamp
	}
	return s.ArrivalTimestamp
}

// Stats summarizes buffer contents.
type Stats struct {
	Size           int
	SamplingRateHz float64
	DurationMs     float64
	OldestMs       float64
	NewestMs       float64
}

// Buffer is a bounded, insertion-ordered sample store. Length never exceeds
// capacity: when an insert would overflow, the oldest batch (a tenth of the
// capacity, rounded up) is evicted at once rather than one entry per insert.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	batch    int
	samples  []Sample
}

// nowMs is swappable in tests.
var nowMs = func() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// New creates a buffer holding at most capacity samples.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	batch := (capacity + 9) / 10
	return &Buffer{
		capacity: capacity,
		batch:    batch,
		samples:  make([]Sample, 0, capacity),
	}
}

// Add appends a sample, evicting the oldest batch first if the buffer is at
// capacity.
func (b *Buffer) Add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) >= b.capacity {
		n := b.batch
		if n > len(b.samples) {
			n = len(b.samples)
		}
		b.samples = append(b.samples[:0], b.samples[n:]...)
	}
	b.samples = append(b.samples, s)
}

// Range returns all retained samples whose effective timestamp falls in
// [start, end], in insertion order. See Sample.EffectiveTimestamp for which
// timestamp field is consulted.
func (b *Buffer) Range(start, end float64) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Sample
	for _, s := range b.samples {
		ts := s.EffectiveTimestamp()
		if ts >= start && ts <= end {
			out = append(out, s)
		}
	}
	return out
}

// Recent returns the samples from the trailing window ending now.
func (b *Buffer) Recent(window time.Duration) []Sample {
	now := nowMs()
	return b.Range(now-float64(window.Milliseconds()), now)
}

// TrialWindow returns the samples within an experimental interval. It is
// Range under the name the experiment-facing callers use.
func (b *Buffer) TrialWindow(start, end float64) []Sample {
	return b.Range(start, end)
}

// Samples returns a copy of all retained samples in insertion order.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Current returns the most recently inserted sample, if any.
func (b *Buffer) Current() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// EvictOlderThan drops samples whose arrival timestamp is older than age,
// regardless of capacity pressure. Ages are judged on the arrival clock
// because that is the clock eviction deadlines are set against.
func (b *Buffer) EvictOlderThan(age time.Duration) {
	cutoff := nowMs() - float64(age.Milliseconds())

	b.mu.Lock()
	defer b.mu.Unlock()

	i := 0
	for i < len(b.samples) && b.samples[i].ArrivalTimestamp < cutoff {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Capacity returns the configured bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Stats computes summary statistics over the retained samples.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.samples) == 0 {
		return Stats{}
	}

	oldest := b.samples[0].EffectiveTimestamp()
	newest := oldest
	for _, s := range b.samples[1:] {
		ts := s.EffectiveTimestamp()
		if ts < oldest {
			oldest = ts
		}
		if ts > newest {
			newest = ts
		}
	}

	duration := newest - oldest
	rate := 0.0
	if duration > 0 {
		rate = float64(len(b.samples)) / (duration / 1000.0)
	}

	return Stats{
		Size:           len(b.samples),
		SamplingRateHz: rate,
		DurationMs:     duration,
		OldestMs:       oldest,
		NewestMs:       newest,
	}
}
