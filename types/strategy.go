package types

// LeaseView is one lease as seen by a balancing decision.
type LeaseView struct {
	Lease Lease

	// Expired reports whether anyone may take the lease now.
	Expired bool

	// Running reports whether this instance runs a worker for the lease.
	Running bool
}

// BalancingStrategy decides which leases an instance should try to take.
//
// The controller calls SelectLeasesToTake once per cycle with every lease under
// the prefix. The returned leases are attempted in order; each attempt is a
// conditional write, so a stale decision costs one lost race and nothing else.
//
// Implementations must be safe for concurrent use and must not block.
type BalancingStrategy interface {
	// SelectLeasesToTake returns the leases hostName should acquire this cycle.
	SelectLeasesToTake(hostName string, leases []LeaseView) []Lease
}
