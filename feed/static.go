package feed

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/arloliu/changefeed/types"
)

// Static is a fixed partition list.
//
// It backs sources whose partitioning is configured rather than stored, such
// as JetStream. Removing a partition with Update retires it: readers drain
// what is left and then see types.ErrPartitionGone.
type Static struct {
	mu         sync.RWMutex
	partitions []types.Partition
}

// NewStatic creates a static partition list.
//
// Parameters:
//   - partitions: Initial partitions
//
// Returns:
//   - *Static: Initialized partition list
//
// Example:
//
//	parts := feed.NewStatic([]types.Partition{{ID: "p-0"}, {ID: "p-1"}})
//	src, err := feed.OpenJetStream(ctx, js, feed.JetStreamConfig{}, parts)
//	if err != nil { /* handle */ }
func NewStatic(partitions []types.Partition) *Static {
	s := &Static{}
	s.Update(partitions)

	return s
}

// StaticIDs is shorthand for NewStatic with parentless partitions.
func StaticIDs(ids ...string) *Static {
	partitions := make([]types.Partition, 0, len(ids))
	for _, id := range ids {
		partitions = append(partitions, types.Partition{ID: id})
	}

	return NewStatic(partitions)
}

// ListPartitions returns a copy of the current list.
func (s *Static) ListPartitions(_ context.Context) ([]types.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Partition, len(s.partitions))
	for i, p := range s.partitions {
		result[i] = types.Partition{ID: p.ID, Parents: slices.Clone(p.Parents)}
	}

	return result, nil
}

// Contains reports whether id is a current partition.
func (s *Static) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.ContainsFunc(s.partitions, func(p types.Partition) bool { return p.ID == id })
}

// Update replaces the partition list.
//
// Example:
//
//	// Split p-0 into two children.
//	parts.Update([]types.Partition{
//	    {ID: "p-0a", Parents: []string{"p-0"}},
//	    {ID: "p-0b", Parents: []string{"p-0"}},
//	})
func (s *Static) Update(partitions []types.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions = make([]types.Partition, len(partitions))
	for i, p := range partitions {
		s.partitions[i] = types.Partition{ID: p.ID, Parents: slices.Clone(p.Parents)}
	}
	slices.SortFunc(s.partitions, func(a, b types.Partition) int { return strings.Compare(a.ID, b.ID) })
}
