package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func view(pid, owner string, expired, running bool) types.LeaseView {
	return types.LeaseView{
		Lease:   types.Lease{Prefix: "orders", PartitionID: pid, Owner: owner},
		Expired: expired,
		Running: running,
	}
}

func ids(leases []types.Lease) []string {
	out := make([]string, len(leases))
	for i, l := range leases {
		out[i] = l.PartitionID
	}

	return out
}

func TestEqualPartitions_SelectLeasesToTake(t *testing.T) {
	t.Run("no leases", func(t *testing.T) {
		require.Empty(t, NewEqualPartitions(0, 0).SelectLeasesToTake("a", nil))
	})

	t.Run("single host takes every unowned lease", func(t *testing.T) {
		var leases []types.LeaseView
		for i := range 4 {
			leases = append(leases, view(fmt.Sprintf("p-%d", i), "", true, false))
		}

		got := NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases)
		require.ElementsMatch(t, []string{"p-0", "p-1", "p-2", "p-3"}, ids(got))
	})

	t.Run("takes only its share of expired leases", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "b", false, false),
			view("p-1", "b", false, false),
			view("p-2", "", true, false),
			view("p-3", "", true, false),
		}

		got := NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases)
		require.Len(t, got, 2)
		require.ElementsMatch(t, []string{"p-2", "p-3"}, ids(got))
	})

	t.Run("steals one lease from an overloaded host", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "b", false, false),
			view("p-1", "b", false, false),
			view("p-2", "b", false, false),
			view("p-3", "b", false, false),
		}

		got := NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases)
		require.Len(t, got, 1)
		require.Equal(t, "b", got[0].Owner)
	})

	t.Run("does not steal from a balanced cluster", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "a", false, true),
			view("p-1", "b", false, false),
			view("p-2", "c", false, false),
		}

		require.Empty(t, NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases))
	})

	t.Run("resumes own leases without a worker", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "a", false, false),
			view("p-1", "b", false, false),
		}

		got := NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases)
		require.Equal(t, []string{"p-0"}, ids(got))
	})

	t.Run("running leases count toward the target", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "a", false, true),
			view("p-1", "a", false, true),
			view("p-2", "", true, false),
			view("p-3", "b", false, false),
		}

		// target = ceil(4/2) = 2 and a already runs 2.
		require.Empty(t, NewEqualPartitions(0, 0).SelectLeasesToTake("a", leases))
	})

	t.Run("max scale count caps ownership", func(t *testing.T) {
		var leases []types.LeaseView
		for i := range 6 {
			leases = append(leases, view(fmt.Sprintf("p-%d", i), "", true, false))
		}

		s := NewEqualPartitions(0, 2)
		require.Len(t, s.SelectLeasesToTake("a", leases), 2)

		leases[0].Running, leases[0].Expired = true, false
		leases[1].Running, leases[1].Expired = true, false
		require.Empty(t, s.SelectLeasesToTake("a", leases))
	})

	t.Run("min scale count raises the target", func(t *testing.T) {
		leases := []types.LeaseView{
			view("p-0", "b", false, false),
			view("p-1", "", true, false),
			view("p-2", "", true, false),
			view("p-3", "", true, false),
		}

		// ceil(4/2) = 2, raised to 3.
		require.Len(t, NewEqualPartitions(3, 0).SelectLeasesToTake("a", leases), 3)
	})

	t.Run("hosts prefer different expired leases", func(t *testing.T) {
		var leases []types.LeaseView
		for i := range 32 {
			leases = append(leases, view(fmt.Sprintf("p-%d", i), "", true, false))
		}
		leases = append(leases, view("x-0", "c", false, false))

		s := NewEqualPartitions(0, 1)
		picks := map[string]struct{}{}
		for i := range 8 {
			host := fmt.Sprintf("host-%d", i)
			got := s.SelectLeasesToTake(host, leases)
			require.Len(t, got, 1)
			require.Equal(t, got, s.SelectLeasesToTake(host, leases), "choice must be deterministic per host")
			picks[got[0].PartitionID] = struct{}{}
		}
		require.Greater(t, len(picks), 1)
	})
}

func BenchmarkEqualPartitions(b *testing.B) {
	leases := make([]types.LeaseView, 0, 1024)
	for i := range 1024 {
		owner := fmt.Sprintf("host-%d", i%16)
		leases = append(leases, view(fmt.Sprintf("p-%d", i), owner, i%7 == 0, false))
	}
	s := NewEqualPartitions(0, 0)

	for b.Loop() {
		_ = s.SelectLeasesToTake("host-new", leases)
	}
}
