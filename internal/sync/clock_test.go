// ABOUTME: Tests for client-server clock synchronization
// ABOUTME: Covers median offset selection, probe failures, and time conversion
package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
	"github.com/stretchr/testify/require"
)

// stubRequester answers time probes with a scripted per-call clock offset.
// Calls listed in fail return an error instead.
type stubRequester struct {
	offsets []float64
	fail    map[int]bool
	calls   int
}

func (s *stubRequester) SendAndWait(_ context.Context, msg protocol.Outbound, _ time.Duration) (*protocol.Envelope, error) {
	call := s.calls
	s.calls++

	if s.fail[call] {
		return nil, errors.New("request timeout")
	}

	req, ok := msg.(*protocol.TimeSyncRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %s", msg.MessageType())
	}

	offset := s.offsets[call%len(s.offsets)]
	frame := fmt.Sprintf(`{"type":"time_sync","requestId":%q,"serverTime":%g,"clientTime":%g}`,
		req.RequestID, req.ClientTime+offset, req.ClientTime)
	return protocol.ParseEnvelope([]byte(frame))
}

func fastConfig(probes int) Config {
	return Config{Probes: probes, ProbeInterval: time.Millisecond, ProbeTimeout: time.Second}
}

func TestSynchronizeTakesMedianOffset(t *testing.T) {
	stub := &stubRequester{offsets: []float64{100, 102, 98, 500, 101}}
	cs := NewClockSync(stub, fastConfig(5))

	require.NoError(t, cs.Synchronize(context.Background()))

	offset, synced := cs.Offset()
	require.True(t, synced)
	require.InDelta(t, 101, offset, 1.0, "median must not be skewed by the 500ms outlier")
}

func TestSynchronizeReplacesOffsetWholesale(t *testing.T) {
	stub := &stubRequester{offsets: []float64{100}}
	cs := NewClockSync(stub, fastConfig(3))
	require.NoError(t, cs.Synchronize(context.Background()))

	stub.offsets = []float64{-40}
	require.NoError(t, cs.Synchronize(context.Background()))

	offset, _ := cs.Offset()
	require.InDelta(t, -40, offset, 1.0)
}

func TestConversionFailsBeforeSync(t *testing.T) {
	cs := NewClockSync(&stubRequester{offsets: []float64{0}}, fastConfig(3))

	_, err := cs.ToServerTime(1000)
	require.ErrorIs(t, err, ErrNotSynced)

	_, err = cs.ToLocalTime(1000)
	require.ErrorIs(t, err, ErrNotSynced)
}

func TestConversionRoundTrip(t *testing.T) {
	stub := &stubRequester{offsets: []float64{250}}
	cs := NewClockSync(stub, fastConfig(3))
	require.NoError(t, cs.Synchronize(context.Background()))

	local := 123456.0
	remote, err := cs.ToServerTime(local)
	require.NoError(t, err)
	require.InDelta(t, local+250, remote, 1.0)

	back, err := cs.ToLocalTime(remote)
	require.NoError(t, err)
	require.InDelta(t, local, back, 1e-9, "round trip is exact offset arithmetic")
}

func TestSynchronizeToleratesSomeProbeFailures(t *testing.T) {
	stub := &stubRequester{
		offsets: []float64{100},
		fail:    map[int]bool{0: true, 3: true},
	}
	cs := NewClockSync(stub, fastConfig(8))

	require.NoError(t, cs.Synchronize(context.Background()))

	_, synced := cs.Offset()
	require.True(t, synced)
}

func TestSynchronizeFailsWithTooFewSamples(t *testing.T) {
	stub := &stubRequester{
		offsets: []float64{100},
		fail:    map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true},
	}
	cs := NewClockSync(stub, fastConfig(8))

	require.Error(t, cs.Synchronize(context.Background()))

	_, synced := cs.Offset()
	require.False(t, synced)
}

func TestSynchronizeHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubRequester{offsets: []float64{100}}
	cs := NewClockSync(stub, fastConfig(8))

	err := cs.Synchronize(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReset(t *testing.T) {
	stub := &stubRequester{offsets: []float64{100}}
	cs := NewClockSync(stub, fastConfig(3))
	require.NoError(t, cs.Synchronize(context.Background()))

	cs.Reset()

	_, synced := cs.Offset()
	require.False(t, synced)
	_, err := cs.ToServerTime(0)
	require.ErrorIs(t, err, ErrNotSynced)
}

func TestMedianEvenCount(t *testing.T) {
	require.Equal(t, 15.0, median([]float64{10, 20, 30, 0}))
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	median(in)
	require.Equal(t, []float64{3, 1, 2}, in)
}
