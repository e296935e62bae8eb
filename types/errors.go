package types

import "errors"

// Sentinel errors for the changefeed library.
//
// These errors provide type-safe error checking using errors.Is().
// Backends wrap their native errors with these sentinels using
// fmt.Errorf("%w: %w", sentinel, err) so callers never depend on a
// specific store or feed implementation.

// Processor errors - Public API errors returned by the processor facade.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrHostNameRequired is returned when the host name is empty.
	ErrHostNameRequired = errors.New("host name is required")

	// ErrHandlerRequired is returned when the change handler is nil.
	ErrHandlerRequired = errors.New("change handler is required")

	// ErrFeedSourceRequired is returned when the feed source is nil.
	ErrFeedSourceRequired = errors.New("feed source is required")

	// ErrLeaseStoreRequired is returned when the lease store is nil.
	ErrLeaseStoreRequired = errors.New("lease store is required")

	// ErrAlreadyStarted is returned when Start is called on a running processor.
	ErrAlreadyStarted = errors.New("processor already started")

	// ErrNotStarted is returned when Stop is called on a processor that is not running.
	ErrNotStarted = errors.New("processor not started")
)

// Lease store errors - Returned by LeaseStore implementations.
var (
	// ErrLeaseNotFound is returned when a lease row does not exist.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrLeaseExists is returned by Create when a lease row already exists.
	ErrLeaseExists = errors.New("lease already exists")

	// ErrVersionConflict is returned when a conditional write observes a different version.
	ErrVersionConflict = errors.New("lease version conflict")

	// ErrStoreUnavailable indicates the lease store could not be reached.
	// Callers treat it as transient and retry on the next cycle.
	ErrStoreUnavailable = errors.New("lease store unavailable")

	// ErrInvalidLease is returned when a lease is missing its prefix or partition ID.
	ErrInvalidLease = errors.New("invalid lease")
)

// Ownership errors - Returned by the lease manager.
var (
	// ErrLeaseLost signals that another instance owns the lease now.
	// It is a cancellation signal for the owning worker, never retried.
	ErrLeaseLost = errors.New("lease lost")
)

// Feed errors - Returned by FeedSource implementations.
var (
	// ErrPartitionGone is returned when a partition was split or merged away and
	// all of its remaining changes have been read.
	ErrPartitionGone = errors.New("partition gone")

	// ErrInvalidToken is returned when a continuation token cannot be parsed.
	ErrInvalidToken = errors.New("invalid continuation token")

	// ErrInvalidPartitionID is returned when a partition ID is empty or malformed.
	ErrInvalidPartitionID = errors.New("invalid partition ID")
)
