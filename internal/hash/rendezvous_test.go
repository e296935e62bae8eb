package hash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScore_Stable(t *testing.T) {
	require.Equal(t, Score("host-a", "p-0"), Score("host-a", "p-0"))
	require.NotEqual(t, Score("host-a", "p-0"), Score("host-b", "p-0"))
}

func TestRank(t *testing.T) {
	keys := []string{"p-0", "p-1", "p-2", "p-3", "p-4"}
	orig := append([]string(nil), keys...)

	ranked := Rank("host-a", keys)
	require.ElementsMatch(t, keys, ranked)
	require.Equal(t, orig, keys, "input must not be modified")

	for i := 1; i < len(ranked); i++ {
		require.GreaterOrEqual(t, Score("host-a", ranked[i-1]), Score("host-a", ranked[i]))
	}

	require.Empty(t, Rank("host-a", nil))
}

func TestRank_DiffersAcrossHosts(t *testing.T) {
	keys := make([]string, 32)
	for i := range keys {
		keys[i] = fmt.Sprintf("p-%d", i)
	}

	firsts := make(map[string]struct{})
	for h := range 8 {
		firsts[Rank(fmt.Sprintf("host-%d", h), keys)[0]] = struct{}{}
	}

	require.Greater(t, len(firsts), 1, "hosts should not all prefer the same lease")
}

func TestOwner(t *testing.T) {
	require.Empty(t, Owner(nil, "p-0"))

	nodes := []string{"host-a", "host-b", "host-c"}
	owner := Owner(nodes, "p-0")
	require.Contains(t, nodes, owner)
	for _, n := range nodes {
		require.GreaterOrEqual(t, Score(owner, "p-0"), Score(n, "p-0"))
	}

	counts := make(map[string]int)
	for i := range 300 {
		counts[Owner(nodes, fmt.Sprintf("p-%d", i))]++
	}
	for _, n := range nodes {
		require.Greater(t, counts[n], 50, "distribution too skewed for %s", n)
	}
}

func BenchmarkRank(b *testing.B) {
	keys := make([]string, 256)
	for i := range keys {
		keys[i] = fmt.Sprintf("p-%d", i)
	}

	for b.Loop() {
		_ = Rank("host-a", keys)
	}
}
