package types

import "context"

// ReleaseReason explains why this instance stopped owning a lease.
type ReleaseReason string

const (
	// ReleaseShutdown means the processor stopped and released the lease.
	ReleaseShutdown ReleaseReason = "shutdown"

	// ReleaseLost means another instance took the lease.
	ReleaseLost ReleaseReason = "lost"

	// ReleaseRetired means the partition was split or merged away.
	ReleaseRetired ReleaseReason = "retired"
)

// Hooks defines callbacks for processor lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block lease renewal or batch delivery. Hooks receive the
// processor's lifecycle context, which is cancelled during shutdown.
//
// Hook errors are logged but don't fail processor operations.
//
// Example:
//
//	hooks := &changefeed.Hooks{
//	    OnLeaseAcquired: func(ctx context.Context, partitionID string) error {
//	        log.Printf("now processing %s", partitionID)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnLeaseAcquired is called after this instance takes ownership of a partition.
	OnLeaseAcquired func(ctx context.Context, partitionID string) error

	// OnLeaseReleased is called after this instance stops processing a partition.
	OnLeaseReleased func(ctx context.Context, partitionID string, reason ReleaseReason) error

	// OnStateChanged is called when the processor lifecycle state changes.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a recoverable per-partition error occurs
	// (handler failure, feed read failure).
	OnError func(ctx context.Context, partitionID string, err error) error
}
