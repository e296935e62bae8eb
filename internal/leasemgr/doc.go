// Package leasemgr turns raw lease store operations into ownership semantics:
// acquisition, expiration, renewal, checkpointing and release.
//
// Every write is conditional on the version read immediately before it. A
// writer that loses the race learns about it through types.ErrLeaseLost and
// must stop using the lease.
package leasemgr
