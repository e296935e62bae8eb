package leasemgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/changefeed/types"
)

const resetAttempts = 3

// ResetOwners clears the owner of every lease under prefix.
//
// Running owners notice on their next renewal or checkpoint and stop; the
// leases are then acquired again through the normal expired-lease path.
// Each row is retried a few times when it changes concurrently.
//
// Returns:
//   - int: Number of leases whose owner was cleared
//   - error: First store error other than a lost race
func ResetOwners(ctx context.Context, store types.LeaseStore, prefix string) (int, error) {
	leases, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("reset owners of %s: %w", prefix, err)
	}

	cleared := 0
	for _, lease := range leases {
		for attempt := 0; lease.Owner != ""; attempt++ {
			next := lease
			next.Owner = ""
			_, err := store.Update(ctx, next, lease.Version)
			if err == nil {
				cleared++
				break
			}
			if errors.Is(err, types.ErrLeaseNotFound) {
				break
			}
			if !errors.Is(err, types.ErrVersionConflict) || attempt+1 >= resetAttempts {
				return cleared, fmt.Errorf("reset owner of %s: %w", lease.PartitionID, err)
			}

			fresh, err := store.Get(ctx, prefix, lease.PartitionID)
			if err != nil {
				if errors.Is(err, types.ErrLeaseNotFound) {
					break
				}

				return cleared, fmt.Errorf("reset owner of %s: %w", lease.PartitionID, err)
			}
			lease = fresh
		}
	}

	return cleared, nil
}
