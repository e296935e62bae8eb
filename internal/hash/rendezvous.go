// Package hash provides rendezvous (highest random weight) hashing over xxh3.
//
// The controller uses it to give every host its own preference order over
// stealable leases, so instances that wake up together try different leases
// first instead of all colliding on the same one.
package hash

import (
	"cmp"
	"slices"

	"github.com/zeebo/xxh3"
)

// Score returns the rendezvous weight of key for node.
//
// Scores are stable across processes and releases of this package.
func Score(node, key string) uint64 {
	return xxh3.HashStringSeed(key, xxh3.HashString(node))
}

// Rank returns keys ordered by descending score for node.
//
// Ties (practically impossible with 64-bit hashes) fall back to key order so
// the result is deterministic. The input slice is not modified.
//
// Example:
//
//	order := hash.Rank("host-a", []string{"p-0", "p-1", "p-2"})
func Rank(node string, keys []string) []string {
	type scored struct {
		key   string
		score uint64
	}

	items := make([]scored, len(keys))
	for i, k := range keys {
		items[i] = scored{key: k, score: Score(node, k)}
	}

	slices.SortFunc(items, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}

		return cmp.Compare(a.key, b.key)
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}

	return out
}

// Owner returns the node with the highest score for key, or "" when nodes is empty.
func Owner(nodes []string, key string) string {
	var (
		best      string
		bestScore uint64
	)
	for i, n := range nodes {
		s := Score(n, key)
		if i == 0 || s > bestScore || (s == bestScore && n < best) {
			best, bestScore = n, s
		}
	}

	return best
}
