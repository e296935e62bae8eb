package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cftest "github.com/arloliu/changefeed/testing"
	"github.com/arloliu/changefeed/types"
)

func newJetStreamFeed(t *testing.T, ids ...string) *JetStream {
	t.Helper()

	_, nc := cftest.StartEmbeddedNATS(t)
	src, err := OpenJetStream(t.Context(), cftest.NewJetStream(t, nc), JetStreamConfig{MemoryStorage: true}, StaticIDs(ids...))
	require.NoError(t, err)

	return src
}

func publishN(t *testing.T, src *JetStream, partitionID string, n int) string {
	t.Helper()

	var token string
	for i := range n {
		var err error
		token, err = src.Publish(t.Context(), partitionID, types.Change{ID: fmt.Sprintf("%s-item-%d", partitionID, i)})
		require.NoError(t, err)
	}

	return token
}

func TestJetStream_ReadChanges(t *testing.T) {
	src := newJetStreamFeed(t, "p-0", "p-1")
	ctx := t.Context()

	res, err := src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0"})
	require.NoError(t, err)
	require.Empty(t, res.Changes)
	require.Equal(t, "0", res.ContinuationToken)

	publishN(t, src, "p-0", 3)
	publishN(t, src, "p-1", 2)
	publishN(t, src, "p-0", 1)

	res, err = src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0", MaxItems: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"p-0-item-0", "p-0-item-1"}, changeIDs(res.Changes))
	require.Equal(t, "2", res.ContinuationToken)
	require.True(t, res.More)

	// Seq 4 and 5 belong to p-1, so the next p-0 change is seq 6.
	res, err = src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0", ContinuationToken: res.ContinuationToken, MaxItems: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"p-0-item-2", "p-0-item-0"}, changeIDs(res.Changes))
	require.Equal(t, "6", res.ContinuationToken)
	require.False(t, res.More)

	res, err = src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-1", MaxItems: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"p-1-item-0", "p-1-item-1"}, changeIDs(res.Changes))
	require.Equal(t, "5", res.ContinuationToken)
}

func TestJetStream_LagAndHead(t *testing.T) {
	src := newJetStreamFeed(t, "p-0", "p-1")
	ctx := t.Context()

	head, err := src.HeadPosition(ctx, "p-0")
	require.NoError(t, err)
	require.Equal(t, "0", head)

	publishN(t, src, "p-0", 4)
	publishN(t, src, "p-1", 1)

	lag, err := src.EstimateLag(ctx, "p-0", head)
	require.NoError(t, err)
	require.Equal(t, int64(4), lag)

	lag, err = src.EstimateLag(ctx, "p-0", "3")
	require.NoError(t, err)
	require.Equal(t, int64(1), lag)

	head, err = src.HeadPosition(ctx, "p-0")
	require.NoError(t, err)
	require.Equal(t, "5", head)

	lag, err = src.EstimateLag(ctx, "p-0", head)
	require.NoError(t, err)
	require.Zero(t, lag)
}

func TestJetStream_PositionAt(t *testing.T) {
	src := newJetStreamFeed(t, "p-0")
	ctx := t.Context()

	publishN(t, src, "p-0", 2)
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	publishN(t, src, "p-0", 1)

	pos, err := src.PositionAt(ctx, "p-0", cutoff)
	require.NoError(t, err)
	require.Equal(t, "2", pos)

	pos, err = src.PositionAt(ctx, "p-0", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "3", pos)
}

func TestJetStream_RetiredPartitionDrains(t *testing.T) {
	src := newJetStreamFeed(t, "p-0")
	ctx := t.Context()
	publishN(t, src, "p-0", 2)

	src.partitions.Update([]types.Partition{{ID: "p-0a", Parents: []string{"p-0"}}})

	res, err := src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0"})
	require.NoError(t, err)
	require.Len(t, res.Changes, 2)

	_, err = src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0", ContinuationToken: res.ContinuationToken})
	require.ErrorIs(t, err, types.ErrPartitionGone)

	parts, err := src.ListPartitions(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Partition{{ID: "p-0a", Parents: []string{"p-0"}}}, parts)
}

func TestJetStream_InvalidInput(t *testing.T) {
	src := newJetStreamFeed(t, "p-0")
	ctx := t.Context()

	_, err := src.Publish(ctx, "p.0", types.Change{ID: "a"})
	require.ErrorIs(t, err, types.ErrInvalidPartitionID)

	_, err = src.Publish(ctx, "p-0", types.Change{})
	require.Error(t, err)

	_, err = src.ReadChanges(ctx, types.ReadRequest{PartitionID: "p-0", ContinuationToken: "abc"})
	require.ErrorIs(t, err, types.ErrInvalidToken)
}
