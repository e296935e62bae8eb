package leasestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	cftest "github.com/arloliu/changefeed/testing"
	"github.com/arloliu/changefeed/types"
)

func TestKV(t *testing.T) {
	_, nc := cftest.StartEmbeddedNATS(t)
	js := cftest.NewJetStream(t, nc)

	n := 0
	runLeaseStoreSuite(t, func(t *testing.T) types.LeaseStore {
		n++
		store, err := OpenKV(t.Context(), js, KVConfig{
			Bucket:        "leases-" + string(rune('a'+n)),
			MemoryStorage: true,
		})
		require.NoError(t, err)

		return store
	})
}

func TestOpenKV_Reopen(t *testing.T) {
	_, nc := cftest.StartEmbeddedNATS(t)
	js := cftest.NewJetStream(t, nc)
	ctx := t.Context()

	first, err := OpenKV(ctx, js, KVConfig{MemoryStorage: true})
	require.NoError(t, err)
	_, err = first.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0", Owner: "host-a"})
	require.NoError(t, err)

	second, err := OpenKV(ctx, js, KVConfig{MemoryStorage: true})
	require.NoError(t, err)
	got, err := second.Get(ctx, "orders", "p-0")
	require.NoError(t, err)
	require.Equal(t, "host-a", got.Owner)
}

func TestNewKV_SharedBucket(t *testing.T) {
	_, nc := cftest.StartEmbeddedNATS(t)
	kv := cftest.CreateJetStreamKV(t, nc, "shared-leases")
	a, b := NewKV(kv), NewKV(kv)
	ctx := t.Context()

	lease, err := a.Create(ctx, types.Lease{Prefix: "orders", PartitionID: "p-0"})
	require.NoError(t, err)

	lease.Owner = "host-b"
	_, err = b.Update(ctx, lease, lease.Version)
	require.NoError(t, err)

	lease.Owner = "host-a"
	_, err = a.Update(ctx, lease, lease.Version)
	require.ErrorIs(t, err, types.ErrVersionConflict)
}

func TestLeaseKey(t *testing.T) {
	key, err := leaseKey("orders", "range:00-7f")
	require.NoError(t, err)
	require.Regexp(t, `^orders\.[A-Za-z0-9_-]+$`, key)

	prefix, pid, err := partitionFromKey(key)
	require.NoError(t, err)
	require.Equal(t, "orders", prefix)
	require.Equal(t, "range:00-7f", pid)

	_, err = leaseKey("orders.eu", "p-0")
	require.ErrorIs(t, err, types.ErrInvalidLease)
	_, err = leaseKey("orders", "")
	require.ErrorIs(t, err, types.ErrInvalidLease)

	_, _, err = partitionFromKey("no-separator")
	require.Error(t, err)
}
