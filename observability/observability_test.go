package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"afrochain/core/events"
	"afrochain/core/types"
)

func TestEventCounterRecordsByType(t *testing.T) {
	counter := Events().emitted.WithLabelValues("escrow.released")
	before := testutil.ToFloat64(counter)

	var emitter events.Emitter = EventCounter{}
	emitter.Emit(events.Wrap(&types.Event{Type: "Escrow.Released"}))
	emitter.Emit(nil)

	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestAPIMetricsCountsErrorsAndReplays(t *testing.T) {
	m := API()
	errs := m.errors.WithLabelValues("escrow", "release", "409")
	before := testutil.ToFloat64(errs)
	m.Observe("escrow", "release", 409, 5*time.Millisecond)
	m.Observe("escrow", "release", 200, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(errs))

	replays := m.replays.WithLabelValues("/v1/payments")
	before = testutil.ToFloat64(replays)
	m.RecordReplay("/v1/payments")
	require.Equal(t, before+1, testutil.ToFloat64(replays))

	var nilMetrics *APIMetrics
	nilMetrics.Observe("escrow", "get", 500, time.Second)
}
