package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/stream"
)

// WaitForStatus polls status until it reports want or the timeout passes.
func WaitForStatus(t *testing.T, status func() cycle.Status, want cycle.Status, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		return status() == want
	}, timeout, 10*time.Millisecond, "status never became %s", want)
}

// CollectUntil reads events until one is of type stop, the channel closes,
// or the timeout passes. It fails the test on timeout.
func CollectUntil(t *testing.T, events <-chan *stream.Event, stop stream.EventType, timeout time.Duration) []*stream.Event {
	t.Helper()

	var out []*stream.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
			if e.Type == stop {
				return out
			}
		case <-deadline:
			t.Fatalf("no %s event within %v (got %d events)", stop, timeout, len(out))
			return out
		}
	}
}

// AssertSeqContiguous checks that events carry consecutive sequence
// numbers starting at from.
func AssertSeqContiguous(t *testing.T, events []*stream.Event, from uint64) {
	t.Helper()
	for i, e := range events {
		if !assert.Equal(t, from+uint64(i), e.Seq, "event %d (%s) out of sequence", i, e.Type) {
			return
		}
	}
}

// AssertFinalized checks that the last event finalizes the session with
// the given reason and that no other event does.
func AssertFinalized(t *testing.T, events []*stream.Event, reason cycle.FinishReason) {
	t.Helper()
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	data, err := last.FinalizedData()
	require.NoError(t, err)
	assert.Equal(t, reason, data.Reason)

	for _, e := range events[:len(events)-1] {
		assert.NotEqual(t, stream.EventTypeFinalized, e.Type, "finalized emitted more than once")
	}
}

// StatusSequence returns the statuses carried by status events in order.
func StatusSequence(t *testing.T, events []*stream.Event) []cycle.Status {
	t.Helper()
	var out []cycle.Status
	for _, e := range events {
		if e.Type != stream.EventTypeStatus {
			continue
		}
		data, err := e.StatusData()
		require.NoError(t, err)
		out = append(out, data.Status)
	}
	return out
}
