// Package leasestore provides types.LeaseStore implementations.
//
// Every store persists leases with optimistic concurrency: each successful
// write yields a new version and every mutation is conditional on the version
// the caller read before. Expiration and ownership policy are not the store's
// concern.
//
// Implementations:
//   - KV: NATS JetStream KeyValue bucket (KV revision is the version)
//   - Redis: Redis hashes updated by Lua scripts through redigo
//   - Memory: in-process map for tests and single-process deployments
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	store, err := leasestore.OpenKV(ctx, js, leasestore.KVConfig{Bucket: "changefeed-leases"})
//	leases, err := store.List(ctx, "orders")
package leasestore
