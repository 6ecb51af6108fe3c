// ABOUTME: Tests for the bounded gaze sample buffer
// ABOUTME: Covers capacity invariant, batch eviction, and windowed queries
package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCapacityInvariantHolds(t *testing.T) {
	b := New(100)

	for i := 0; i < 1000; i++ {
		b.Add(Sample{ArrivalTimestamp: float64(i)})
		require.LessOrEqual(t, b.Len(), b.Capacity())
	}
}

func TestBatchEvictionRemovesOldest(t *testing.T) {
	b := New(5)

	for i := 0; i < 10; i++ {
		b.Add(Sample{ArrivalTimestamp: float64(i)})
	}

	require.Equal(t, 5, b.Len())

	current, ok := b.Current()
	require.True(t, ok)
	require.Equal(t, 9.0, current.ArrivalTimestamp)

	samples := b.Samples()
	require.Equal(t, 5.0, samples[0].ArrivalTimestamp, "oldest retained after eviction")
}

func TestBatchSizeIsTenthOfCapacity(t *testing.T) {
	b := New(100)

	for i := 0; i < 100; i++ {
		b.Add(Sample{ArrivalTimestamp: float64(i)})
	}
	require.Equal(t, 100, b.Len())

	// One more insert triggers a batch eviction of 10, not 1
	b.Add(Sample{ArrivalTimestamp: 100})
	require.Equal(t, 91, b.Len())
	require.Equal(t, 10.0, b.Samples()[0].ArrivalTimestamp)
}

func TestRangeWindow(t *testing.T) {
	b := New(10)
	for _, ts := range []float64{100, 200, 300, 400} {
		b.Add(Sample{ArrivalTimestamp: ts})
	}

	got := b.Range(150, 350)
	require.Len(t, got, 2)
	require.Equal(t, 200.0, got[0].ArrivalTimestamp)
	require.Equal(t, 300.0, got[1].ArrivalTimestamp)
}

func TestRangeBoundsAreInclusive(t *testing.T) {
	b := New(10)
	for _, ts := range []float64{100, 200, 300} {
		b.Add(Sample{ArrivalTimestamp: ts})
	}

	require.Len(t, b.Range(100, 300), 3)
}

func TestRangePrefersDerivedTimestamp(t *testing.T) {
	b := New(10)
	b.Add(Sample{ArrivalTimestamp: 999, DerivedTimestamp: 250, HasDerived: true})
	b.Add(Sample{ArrivalTimestamp: 260})

	got := b.Range(200, 300)
	require.Len(t, got, 2, "derived timestamp wins when present, arrival otherwise")
}

func TestRecentUsesTrailingWindow(t *testing.T) {
	restore := nowMs
	nowMs = func() float64 { return 10000 }
	defer func() { nowMs = restore }()

	b := New(10)
	b.Add(Sample{ArrivalTimestamp: 8000})
	b.Add(Sample{ArrivalTimestamp: 9500})
	b.Add(Sample{ArrivalTimestamp: 9900})

	got := b.Recent(time.Second)
	require.Len(t, got, 2)
}

func TestTrialWindowMatchesRange(t *testing.T) {
	b := New(10)
	for _, ts := range []float64{10, 20, 30} {
		b.Add(Sample{ArrivalTimestamp: ts})
	}

	require.Equal(t, b.Range(15, 35), b.TrialWindow(15, 35))
}

func TestEvictOlderThan(t *testing.T) {
	restore := nowMs
	nowMs = func() float64 { return 60000 }
	defer func() { nowMs = restore }()

	b := New(10)
	b.Add(Sample{ArrivalTimestamp: 1000})
	b.Add(Sample{ArrivalTimestamp: 30000})
	b.Add(Sample{ArrivalTimestamp: 59000})

	b.EvictOlderThan(40 * time.Second)

	require.Equal(t, 2, b.Len())
	require.Equal(t, 30000.0, b.Samples()[0].ArrivalTimestamp)
}

func TestCurrentOnEmptyBuffer(t *testing.T) {
	b := New(5)
	_, ok := b.Current()
	require.False(t, ok)
}

func TestClear(t *testing.T) {
	b := New(5)
	b.Add(Sample{ArrivalTimestamp: 1})
	b.Clear()

	require.Equal(t, 0, b.Len())
	require.Empty(t, b.Range(0, 100))
}

func TestStats(t *testing.T) {
	b := New(10)
	for _, ts := range []float64{0, 500, 1000} {
		b.Add(Sample{ArrivalTimestamp: ts})
	}

	stats := b.Stats()
	require.Equal(t, 3, stats.Size)
	require.Equal(t, 1000.0, stats.DurationMs)
	require.Equal(t, 0.0, stats.OldestMs)
	require.Equal(t, 1000.0, stats.NewestMs)
	require.InDelta(t, 3.0, stats.SamplingRateHz, 0.01)
}

func TestStatsEmpty(t *testing.T) {
	require.Equal(t, Stats{}, New(5).Stats())
}
