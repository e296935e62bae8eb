package types

import (
	"context"
	"fmt"
	"time"
)

// Lease is the persisted ownership and checkpoint record for one partition.
//
// Leases are scoped by Prefix so several processor deployments can share one
// lease store. Every successful write produces a new Version, and every write
// is conditional on the Version read immediately before it.
type Lease struct {
	// Prefix namespaces the lease to one logical processor deployment.
	Prefix string `json:"prefix"`

	// PartitionID identifies the partition range. Never reused across splits.
	PartitionID string `json:"partitionId"`

	// Owner is the host name of the owning instance, or empty when unowned.
	Owner string `json:"owner,omitempty"`

	// ContinuationToken marks the last successfully processed position.
	// Empty means the partition has never been checkpointed.
	ContinuationToken string `json:"continuationToken,omitempty"`

	// RenewedAt is the last time the owner renewed or checkpointed the lease.
	RenewedAt time.Time `json:"renewedAt"`

	// Parents lists the partitions this partition was split or merged from.
	Parents []string `json:"parents,omitempty"`

	// Version is the store-assigned concurrency token of the row.
	// It is not part of the serialized body.
	Version uint64 `json:"-"`
}

// IsOwnedBy reports whether the lease names host as its owner.
func (l Lease) IsOwnedBy(host string) bool {
	return l.Owner != "" && l.Owner == host
}

// Validate checks that the lease carries the identifying fields every store needs.
func (l Lease) Validate() error {
	if l.Prefix == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidLease)
	}
	if err := ValidatePartitionID(l.PartitionID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLease, err)
	}

	return nil
}

// String returns a compact description used in log messages.
func (l Lease) String() string {
	owner := l.Owner
	if owner == "" {
		owner = "<none>"
	}

	return fmt.Sprintf("%s/%s owner=%s token=%q v=%d", l.Prefix, l.PartitionID, owner, l.ContinuationToken, l.Version)
}

// LeaseStore persists leases with optimistic concurrency.
//
// Implementations must make each operation atomic. The store knows nothing
// about expiration or ownership policy; those live in the lease manager.
//
// Concurrency: Implementations must be safe for concurrent use.
type LeaseStore interface {
	// Get reads one lease.
	//
	// Returns:
	//   - Lease: The lease with its current Version
	//   - error: ErrLeaseNotFound if the row does not exist
	Get(ctx context.Context, prefix, partitionID string) (Lease, error)

	// Create writes a new lease row.
	//
	// Returns:
	//   - Lease: The stored lease with its assigned Version
	//   - error: ErrLeaseExists if the row already exists
	Create(ctx context.Context, lease Lease) (Lease, error)

	// Update replaces a lease row when its version still equals expectedVersion.
	//
	// Returns:
	//   - uint64: The new version
	//   - error: ErrVersionConflict on a version mismatch, ErrLeaseNotFound if the row is gone
	Update(ctx context.Context, lease Lease, expectedVersion uint64) (uint64, error)

	// Delete removes a lease row when its version still equals expectedVersion.
	//
	// Returns:
	//   - error: ErrVersionConflict on a version mismatch, ErrLeaseNotFound if the row is gone
	Delete(ctx context.Context, prefix, partitionID string, expectedVersion uint64) error

	// List returns every lease under prefix, sorted by partition ID.
	List(ctx context.Context, prefix string) ([]Lease, error)
}

// LeaseState is a read-only projection of one lease produced on demand.
type LeaseState struct {
	PartitionID       string `json:"partitionId"`
	HostName          string `json:"hostName"`
	ContinuationToken string `json:"continuationToken"`

	// EstimatedLag is the number of changes after the checkpoint, or -1 when
	// the lag could not be computed.
	EstimatedLag int64 `json:"estimatedLag"`
}

// TotalLag sums per-partition lag, skipping partitions whose lag is unknown (negative).
//
// Parameters:
//   - lag: Per-partition lag as returned by the estimator
//
// Returns:
//   - int64: Sum of all known lag values
func TotalLag(lag map[string]int64) int64 {
	var total int64
	for _, v := range lag {
		if v > 0 {
			total += v
		}
	}

	return total
}
