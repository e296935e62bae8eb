package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ProcessorMetrics
	LeaseMetrics
	WorkerMetrics
	EstimatorMetrics
}

// ProcessorMetrics defines metrics for processor and controller operations.
type ProcessorMetrics interface {
	// RecordStateTransition records a processor state transition.
	RecordStateTransition(from, to State)

	// RecordControllerCycle records one partition controller pass.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - success: false when the lease store could not be listed
	RecordControllerCycle(duration float64, success bool)

	// RecordOwnedLeases sets the number of leases this instance currently processes (gauge).
	RecordOwnedLeases(count int)
}

// LeaseMetrics defines metrics for lease ownership operations.
type LeaseMetrics interface {
	// RecordLeaseAcquire records an acquisition attempt.
	//
	// Parameters:
	//   - result: "acquired", "stolen", or "lost"
	RecordLeaseAcquire(result string)

	// RecordLeaseRenewal records a renewal attempt.
	RecordLeaseRenewal(partitionID string, success bool)

	// RecordLeaseLost records that another instance took a lease from this one.
	RecordLeaseLost(partitionID string)

	// RecordLeaseStoreOperation records lease store latency.
	//
	// Parameters:
	//   - operation: "get", "create", "update", "delete", or "list"
	//   - duration: Time taken in seconds
	RecordLeaseStoreOperation(operation string, duration float64)
}

// WorkerMetrics defines metrics for feed workers.
type WorkerMetrics interface {
	// RecordBatch records a handled batch.
	//
	// Parameters:
	//   - partitionID: Partition the batch came from
	//   - size: Number of changes in the batch
	//   - duration: Handler time in seconds
	RecordBatch(partitionID string, size int, duration float64)

	// RecordHandlerError records a failed handler invocation.
	RecordHandlerError(partitionID string)

	// RecordFeedReadError records a failed feed read.
	RecordFeedReadError(partitionID string)

	// RecordCheckpoint records a checkpoint write.
	RecordCheckpoint(partitionID string, success bool)
}

// EstimatorMetrics defines metrics for lag estimation.
type EstimatorMetrics interface {
	// RecordEstimatedLag sets the last estimated lag of a partition (gauge).
	RecordEstimatedLag(partitionID string, lag int64)
}
