// Package strategy provides lease balancing strategies.
//
// A strategy looks at every lease under a prefix and decides which ones the
// calling instance should try to acquire. Decisions are local and
// uncoordinated: every instance runs the same strategy on its own view, and
// the lease store's conditional writes settle any disagreement.
//
// EqualPartitions is the built-in strategy. It spreads leases evenly across
// the hosts that currently own at least one live lease:
//   - Leases owned by the caller but not yet running are resumed first
//   - Expired and unowned leases are taken next, in rendezvous-hash order
//   - When nothing is expired, one lease per cycle is stolen from the most
//     loaded host if that host owns more than its fair share
//
// Custom strategies can be implemented by satisfying types.BalancingStrategy.
package strategy
