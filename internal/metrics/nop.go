// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/changefeed/types"

// NopMetrics implements types.MetricsCollector with no-op methods.
//
// It is the default collector and is embedded by PrometheusCollector so new
// interface methods never break it.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordStateTransition is a no-op.
func (n *NopMetrics) RecordStateTransition(_, _ types.State) {}

// RecordControllerCycle is a no-op.
func (n *NopMetrics) RecordControllerCycle(_ float64, _ bool) {}

// RecordOwnedLeases is a no-op.
func (n *NopMetrics) RecordOwnedLeases(_ int) {}

// RecordLeaseAcquire is a no-op.
func (n *NopMetrics) RecordLeaseAcquire(_ string) {}

// RecordLeaseRenewal is a no-op.
func (n *NopMetrics) RecordLeaseRenewal(_ string, _ bool) {}

// RecordLeaseLost is a no-op.
func (n *NopMetrics) RecordLeaseLost(_ string) {}

// RecordLeaseStoreOperation is a no-op.
func (n *NopMetrics) RecordLeaseStoreOperation(_ string, _ float64) {}

// RecordBatch is a no-op.
func (n *NopMetrics) RecordBatch(_ string, _ int, _ float64) {}

// RecordHandlerError is a no-op.
func (n *NopMetrics) RecordHandlerError(_ string) {}

// RecordFeedReadError is a no-op.
func (n *NopMetrics) RecordFeedReadError(_ string) {}

// RecordCheckpoint is a no-op.
func (n *NopMetrics) RecordCheckpoint(_ string, _ bool) {}

// RecordEstimatedLag is a no-op.
func (n *NopMetrics) RecordEstimatedLag(_ string, _ int64) {}
