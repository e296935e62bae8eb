package strategy

import (
	"cmp"
	"slices"

	"github.com/arloliu/changefeed/internal/hash"
	"github.com/arloliu/changefeed/types"
)

// EqualPartitions balances leases so every active host owns about the same number.
type EqualPartitions struct {
	minScale int
	maxScale int
}

var _ types.BalancingStrategy = (*EqualPartitions)(nil)

// NewEqualPartitions creates the equal-partitions strategy.
//
// Parameters:
//   - minScaleCount: Lower bound of the per-host target (0 = none)
//   - maxScaleCount: Upper bound of leases one host may own (0 = unlimited)
//
// Returns:
//   - *EqualPartitions: Initialized strategy
//
// Example:
//
//	s := strategy.NewEqualPartitions(0, 8)
//	proc, err := changefeed.NewProcessor(&cfg, store, src, handler, changefeed.WithStrategy(s))
func NewEqualPartitions(minScaleCount, maxScaleCount int) *EqualPartitions {
	return &EqualPartitions{minScale: max(minScaleCount, 0), maxScale: max(maxScaleCount, 0)}
}

// SelectLeasesToTake returns the leases hostName should acquire this cycle.
//
// The algorithm:
//  1. Count live leases per owner; the caller always counts as a host
//  2. target = ceil(leases / hosts), clamped to [minScale, maxScale]
//  3. Resume live leases the caller owns without a running worker
//  4. Fill up to target with expired leases, ranked by rendezvous hash
//  5. With nothing expired, steal one lease from the most loaded host above target
//
// The result never makes the caller own more than maxScale leases.
func (s *EqualPartitions) SelectLeasesToTake(hostName string, leases []types.LeaseView) []types.Lease {
	if len(leases) == 0 {
		return nil
	}

	counts := map[string]int{hostName: 0}
	byID := make(map[string]types.Lease, len(leases))
	var (
		running int
		resume  []types.Lease
		expired []string
	)

	for _, v := range leases {
		l := v.Lease
		byID[l.PartitionID] = l

		switch {
		case v.Running:
			running++
			counts[hostName]++
		case v.Expired:
			expired = append(expired, l.PartitionID)
		default:
			counts[l.Owner]++
			if l.Owner == hostName {
				resume = append(resume, l)
			}
		}
	}

	target := (len(leases) + len(counts) - 1) / len(counts)
	if s.minScale > 0 && target < s.minScale {
		target = s.minScale
	}
	if s.maxScale > 0 && target > s.maxScale {
		target = s.maxScale
	}

	room := len(leases)
	if s.maxScale > 0 {
		room = s.maxScale - running
	}
	if room <= 0 {
		return nil
	}

	take := resume[:min(len(resume), room)]
	room -= len(take)

	need := min(target-running-len(resume), room)
	if need <= 0 {
		return take
	}

	if len(expired) > 0 {
		for _, id := range hash.Rank(hostName, expired)[:min(need, len(expired))] {
			take = append(take, byID[id])
		}

		return take
	}

	if victim := s.mostLoaded(hostName, counts); victim != "" && counts[victim] > target {
		var candidates []string
		for _, v := range leases {
			if !v.Running && !v.Expired && v.Lease.Owner == victim {
				candidates = append(candidates, v.Lease.PartitionID)
			}
		}
		if len(candidates) > 0 {
			take = append(take, byID[hash.Rank(hostName, candidates)[0]])
		}
	}

	return take
}

// mostLoaded returns the other host with the most leases, ties broken by name.
func (s *EqualPartitions) mostLoaded(self string, counts map[string]int) string {
	hosts := make([]string, 0, len(counts))
	for h := range counts {
		if h != self {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return ""
	}

	return slices.MaxFunc(hosts, func(a, b string) int {
		if c := cmp.Compare(counts[a], counts[b]); c != 0 {
			return c
		}

		return cmp.Compare(b, a)
	})
}
