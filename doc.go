// Package changefeed provides a distributed change-feed processor: an ordered
// stream of changes split into partitions is shared between any number of
// processor instances, each partition owned by exactly one instance at a time
// through leases in a shared store.
//
// Ownership is arbitrated only by conditional writes on the lease rows, so no
// leader or external coordinator is needed. Owners renew their leases, a lease
// that is not renewed expires and is taken over by another instance, and the
// new owner resumes from the last checkpointed continuation token. Delivery is
// at-least-once.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/changefeed"
//	    "github.com/arloliu/changefeed/feed"
//	    "github.com/arloliu/changefeed/leasestore"
//	)
//
//	store, err := leasestore.OpenKV(ctx, js, leasestore.KVConfig{})
//	src, err := feed.OpenJetStream(ctx, js, feed.JetStreamConfig{}, feed.NewStatic(partitions))
//
//	cfg := changefeed.DefaultConfig()
//	cfg.HostName = hostname
//	cfg.LeasePrefix = "orders"
//
//	proc, err := changefeed.NewProcessor(&cfg, store, src,
//	    changefeed.HandlerFunc(func(ctx context.Context, b changefeed.Batch) error {
//	        return apply(ctx, b.Changes)
//	    }))
//	if err := proc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Stop(context.Background())
//
// # Key Features
//
//   - Lease-based ownership: Single owner per partition, stealable on expiry or forced reset
//   - Balancing: Every instance converges to an equal share of the partitions
//   - Split and merge: Parents are drained before their children start
//   - Lag estimation: Per-partition backlog from any instance, including observer-only ones
//   - Pluggable backends: NATS KV, Redis or in-memory leases; JetStream or Pebble feeds
//
// # Architecture
//
// Processors progress through a state machine:
//
//	INIT → STARTING → RUNNING → STOPPING → STOPPED
//
// While running, a partition controller lists the leases every AcquireInterval,
// creates leases for newly discovered partitions, and acquires the leases its
// balancing strategy selects. Each owned lease gets a renewer and a feed
// worker; the worker reads, calls the handler and checkpoints.
//
// See cmd/changefeedctl for a complete runnable processor.
package changefeed
