package testing

import (
	"slices"
	"testing"
)

// AssertSingleOwnership verifies that no partition is actively processed by more than one instance.
//
// Parameters:
//   - t: testing handle
//   - owned: map of host name -> partitions that host currently processes
//
// Returns:
//   - map[string]string: partition -> owning host, for further assertions
func AssertSingleOwnership(t testing.TB, owned map[string][]string) map[string]string {
	t.Helper()

	owners := make(map[string]string)
	hosts := make([]string, 0, len(owned))
	for host := range owned {
		hosts = append(hosts, host)
	}
	slices.Sort(hosts)

	for _, host := range hosts {
		for _, pid := range owned[host] {
			if prev, ok := owners[pid]; ok {
				t.Fatalf("partition %s processed by both %s and %s", pid, prev, host)
			}
			owners[pid] = host
		}
	}

	return owners
}

// AssertNonDecreasing verifies that a sequence of numeric checkpoints never goes backwards.
func AssertNonDecreasing(t testing.TB, name string, seq []uint64) {
	t.Helper()

	for i := 1; i < len(seq); i++ {
		if seq[i] < seq[i-1] {
			t.Fatalf("%s regressed at index %d: %d -> %d", name, i, seq[i-1], seq[i])
		}
	}
}
