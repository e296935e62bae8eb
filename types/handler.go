package types

import "context"

// Handler processes batches of changes for one partition.
//
// Handle is invoked sequentially per partition and concurrently across
// partitions. Returning an error leaves the checkpoint untouched and the same
// changes are delivered again, so implementations must be idempotent.
type Handler interface {
	// Handle processes one batch.
	//
	// Parameters:
	//   - ctx: Cancelled when the processor stops or the lease is lost
	//   - batch: Changes read from one partition
	//
	// Returns:
	//   - error: Non-nil to retry the batch
	Handle(ctx context.Context, batch Batch) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, batch Batch) error

// Handle calls f(ctx, batch).
func (f HandlerFunc) Handle(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}
