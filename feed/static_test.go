package feed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func TestStatic_ListPartitions(t *testing.T) {
	t.Run("returns partitions sorted by id", func(t *testing.T) {
		src := NewStatic([]types.Partition{{ID: "p-2"}, {ID: "p-0"}, {ID: "p-1", Parents: []string{"root"}}})

		result, err := src.ListPartitions(t.Context())

		require.NoError(t, err)
		require.Equal(t, []types.Partition{{ID: "p-0"}, {ID: "p-1", Parents: []string{"root"}}, {ID: "p-2"}}, result)
	})

	t.Run("returns empty list when no partitions", func(t *testing.T) {
		result, err := NewStatic(nil).ListPartitions(t.Context())

		require.NoError(t, err)
		require.Empty(t, result)
	})

	t.Run("does not share parents with callers", func(t *testing.T) {
		parents := []string{"root"}
		src := NewStatic([]types.Partition{{ID: "p-1", Parents: parents}})
		parents[0] = "changed"

		result, err := src.ListPartitions(t.Context())
		require.NoError(t, err)
		result[0].Parents[0] = "changed-again"

		again, err := src.ListPartitions(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"root"}, again[0].Parents)
	})
}

func TestStatic_Update(t *testing.T) {
	src := StaticIDs("p-0", "p-1")
	require.True(t, src.Contains("p-0"))

	src.Update([]types.Partition{
		{ID: "p-0a", Parents: []string{"p-0"}},
		{ID: "p-0b", Parents: []string{"p-0"}},
		{ID: "p-1"},
	})

	require.False(t, src.Contains("p-0"))
	require.True(t, src.Contains("p-0b"))

	result, err := src.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Len(t, result, 3)
}
