// Package feed provides types.FeedSource implementations.
//
// Two sources are included:
//   - Pebble: a local, durable change log on github.com/cockroachdb/pebble that
//     supports partition splits and merges
//   - JetStream: a change log on a NATS JetStream stream with one subject per partition
//
// Both use decimal sequence numbers as continuation tokens. The empty token
// means "before the first change".
package feed
