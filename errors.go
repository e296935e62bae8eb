package changefeed

import "github.com/arloliu/changefeed/types"

// Sentinel errors returned by the Processor and its collaborators.
//
// They are re-exported from the types package so callers can match them with
// errors.Is without importing types.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrHostNameRequired is returned when Config.HostName is empty.
	ErrHostNameRequired = types.ErrHostNameRequired

	// ErrHandlerRequired is returned when the change handler is nil.
	ErrHandlerRequired = types.ErrHandlerRequired

	// ErrFeedSourceRequired is returned when the feed source is nil.
	ErrFeedSourceRequired = types.ErrFeedSourceRequired

	// ErrLeaseStoreRequired is returned when the lease store is nil.
	ErrLeaseStoreRequired = types.ErrLeaseStoreRequired

	// ErrAlreadyStarted is returned when Start is called on a running processor.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop is called on a processor that is not running.
	ErrNotStarted = types.ErrNotStarted

	// ErrLeaseLost signals that another instance took a lease.
	ErrLeaseLost = types.ErrLeaseLost

	// ErrStoreUnavailable indicates the lease store could not be reached.
	ErrStoreUnavailable = types.ErrStoreUnavailable

	// ErrPartitionGone is returned by feed sources for split or merged partitions.
	ErrPartitionGone = types.ErrPartitionGone
)
