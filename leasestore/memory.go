package leasestore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/changefeed/types"
)

// Memory is an in-process types.LeaseStore.
//
// It offers the same conditional-write semantics as the networked stores and
// is safe for concurrent use, so several processors in one process can share it.
type Memory struct {
	mu      sync.RWMutex
	leases  map[memoryKey]types.Lease
	version uint64
}

type memoryKey struct {
	prefix      string
	partitionID string
}

var _ types.LeaseStore = (*Memory)(nil)

// NewMemory creates an empty in-memory lease store.
func NewMemory() *Memory {
	return &Memory{leases: make(map[memoryKey]types.Lease)}
}

// Get reads one lease.
func (m *Memory) Get(ctx context.Context, prefix, partitionID string) (types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return types.Lease{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	lease, ok := m.leases[memoryKey{prefix, partitionID}]
	if !ok {
		return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, types.ErrLeaseNotFound)
	}

	return cloneLease(lease), nil
}

// Create writes a new lease row.
func (m *Memory) Create(ctx context.Context, lease types.Lease) (types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return types.Lease{}, err
	}
	if err := lease.Validate(); err != nil {
		return types.Lease{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{lease.Prefix, lease.PartitionID}
	if _, ok := m.leases[key]; ok {
		return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrLeaseExists)
	}

	m.version++
	lease = cloneLease(lease)
	lease.Version = m.version
	m.leases[key] = lease

	return cloneLease(lease), nil
}

// Update replaces a lease row when its version equals expectedVersion.
func (m *Memory) Update(ctx context.Context, lease types.Lease, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := lease.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{lease.Prefix, lease.PartitionID}
	current, ok := m.leases[key]
	if !ok {
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrLeaseNotFound)
	}
	if current.Version != expectedVersion {
		return 0, fmt.Errorf("update %s/%s: expected v%d, found v%d: %w",
			lease.Prefix, lease.PartitionID, expectedVersion, current.Version, types.ErrVersionConflict)
	}

	m.version++
	lease = cloneLease(lease)
	lease.Version = m.version
	m.leases[key] = lease

	return lease.Version, nil
}

// Delete removes a lease row when its version equals expectedVersion.
func (m *Memory) Delete(ctx context.Context, prefix, partitionID string, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{prefix, partitionID}
	current, ok := m.leases[key]
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, types.ErrLeaseNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, types.ErrVersionConflict)
	}
	delete(m.leases, key)

	return nil
}

// List returns every lease under prefix, sorted by partition ID.
func (m *Memory) List(ctx context.Context, prefix string) ([]types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Lease, 0, len(m.leases))
	for key, lease := range m.leases {
		if key.prefix == prefix {
			out = append(out, cloneLease(lease))
		}
	}
	sortLeases(out)

	return out, nil
}

func cloneLease(l types.Lease) types.Lease {
	l.Parents = slices.Clone(l.Parents)
	return l
}
