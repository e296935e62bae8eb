package leasestore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

// runLeaseStoreSuite exercises the behaviour every types.LeaseStore must share.
func runLeaseStoreSuite(t *testing.T, newStore func(t *testing.T) types.LeaseStore) {
	t.Helper()

	renewedAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	t.Run("get missing lease", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(t.Context(), "orders", "p-0")
		require.ErrorIs(t, err, types.ErrLeaseNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		created, err := store.Create(ctx, types.Lease{
			Prefix:      "orders",
			PartitionID: "p-0",
			Owner:       "host-a",
			RenewedAt:   renewedAt,
			Parents:     []string{"root"},
		})
		require.NoError(t, err)
		require.Positive(t, created.Version)

		got, err := store.Get(ctx, "orders", "p-0")
		require.NoError(t, err)
		require.Equal(t, created.Version, got.Version)
		require.Equal(t, "host-a", got.Owner)
		require.True(t, renewedAt.Equal(got.RenewedAt))
		require.Equal(t, []string{"root"}, got.Parents)
	})

	t.Run("create twice", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		_, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
		require.NoError(t, err)
		_, err = store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0", Owner: "host-b"})
		require.ErrorIs(t, err, types.ErrLeaseExists)

		got, err := store.Get(ctx, "orders", "p-0")
		require.NoError(t, err)
		require.Empty(t, got.Owner)
	})

	t.Run("conditional update", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		lease, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
		require.NoError(t, err)

		lease.Owner = "host-a"
		v2, err := store.Update(ctx, lease, lease.Version)
		require.NoError(t, err)
		require.NotEqual(t, lease.Version, v2)

		// A writer still holding the old version must lose.
		stale := lease
		stale.Owner = "host-b"
		_, err = store.Update(ctx, stale, lease.Version)
		require.ErrorIs(t, err, types.ErrVersionConflict)

		got, err := store.Get(ctx, "orders", "p-0")
		require.NoError(t, err)
		require.Equal(t, "host-a", got.Owner)
		require.Equal(t, v2, got.Version)

		lease.ContinuationToken = "17"
		v3, err := store.Update(ctx, lease, v2)
		require.NoError(t, err)
		require.NotEqual(t, v2, v3)
	})

	t.Run("update missing lease", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Update(t.Context(), types.Lease{Prefix: "orders", PartitionID: "ghost"}, 1)
		require.ErrorIs(t, err, types.ErrLeaseNotFound)
	})

	t.Run("concurrent updates have one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		lease, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
		require.NoError(t, err)

		const contenders = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for i := range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				attempt := lease
				attempt.Owner = fmt.Sprintf("host-%d", i)
				if _, err := store.Update(ctx, attempt, lease.Version); err == nil {
					mu.Lock()
					winners = append(winners, attempt.Owner)
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, types.ErrVersionConflict)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		got, err := store.Get(ctx, "orders", "p-0")
		require.NoError(t, err)
		require.Equal(t, winners[0], got.Owner)
	})

	t.Run("conditional delete", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		lease, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
		require.NoError(t, err)

		err = store.Delete(ctx, "orders", "p-0", lease.Version+100)
		require.ErrorIs(t, err, types.ErrVersionConflict)

		require.NoError(t, store.Delete(ctx, "orders", "p-0", lease.Version))
		_, err = store.Get(ctx, "orders", "p-0")
		require.ErrorIs(t, err, types.ErrLeaseNotFound)

		err = store.Delete(ctx, "orders", "p-0", lease.Version)
		require.ErrorIs(t, err, types.ErrLeaseNotFound)

		recreated, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
		require.NoError(t, err)
		require.NotEqual(t, lease.Version, recreated.Version)

		_, err = store.Update(ctx, lease, lease.Version)
		require.Error(t, err, "a version from before the delete must not match the recreated row")
	})

	t.Run("list by prefix", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		leases, err := store.List(ctx, "orders")
		require.NoError(t, err)
		require.Empty(t, leases)

		for _, pid := range []string{"p-2", "p-0", "p-1"} {
			_, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: pid})
			require.NoError(t, err)
		}
		_, err = store.Create(ctx, types.Lease{Prefix: "orders-eu", PartitionID: "p-9"})
		require.NoError(t, err)
		_, err = store.Create(ctx, types.Lease{Prefix: "invoices", PartitionID: "p-0"})
		require.NoError(t, err)

		leases, err = store.List(ctx, "orders")
		require.NoError(t, err)
		require.Len(t, leases, 3)
		for i, want := range []string{"p-0", "p-1", "p-2"} {
			require.Equal(t, want, leases[i].PartitionID)
			require.Equal(t, "orders", leases[i].Prefix)
			require.Positive(t, leases[i].Version)
		}

		got, err := store.Get(ctx, "orders", "p-1")
		require.NoError(t, err)
		require.Equal(t, got.Version, leases[1].Version)

		require.NoError(t, store.Delete(ctx, "orders", "p-1", got.Version))
		leases, err = store.List(ctx, "orders")
		require.NoError(t, err)
		require.Len(t, leases, 2)
	})

	t.Run("partition ids needing encoding", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		for _, pid := range []string{"range:00-7f", "日本.東京", "a*b>c"} {
			_, err := store.Create(ctx, types.Lease{Prefix: "orders", PartitionID: pid})
			require.NoError(t, err, pid)

			got, err := store.Get(ctx, "orders", pid)
			require.NoError(t, err, pid)
			require.Equal(t, pid, got.PartitionID)
		}

		leases, err := store.List(ctx, "orders")
		require.NoError(t, err)
		require.Len(t, leases, 3)
	})

	t.Run("invalid lease", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Create(t.Context(), types.Lease{Prefix: "orders"})
		require.ErrorIs(t, err, types.ErrInvalidLease)
	})
}
