package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func TestNewNop(t *testing.T) {
	metrics := NewNop()

	require.NotNil(t, metrics)
	require.IsType(t, &NopMetrics{}, metrics)
}

func TestNopMetrics_NoPanics(t *testing.T) {
	var metrics types.MetricsCollector = NewNop()

	require.NotPanics(t, func() {
		metrics.RecordStateTransition(types.StateInit, types.StateRunning)
		metrics.RecordControllerCycle(0.01, true)
		metrics.RecordOwnedLeases(-1)
		metrics.RecordLeaseAcquire("success")
		metrics.RecordLeaseRenewal("", false)
		metrics.RecordLeaseLost("p-0")
		metrics.RecordLeaseStoreOperation("update", 0)
		metrics.RecordBatch("p-0", 0, -1)
		metrics.RecordHandlerError("p-0")
		metrics.RecordFeedReadError("p-0")
		metrics.RecordCheckpoint("p-0", true)
		metrics.RecordEstimatedLag("p-0", 12)
	})
}
