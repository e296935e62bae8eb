// Package testing provides test utilities for the changefeed library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for lease store and feed integration tests. It follows
// Go's convention of providing testing utilities in a dedicated package
// (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream (WithStoreDir, WithServerName)
//   - NewJetStream: JetStream context bound to a test connection
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: types.Logger writing through t.Logf
//   - AssertSingleOwnership: No-double-processing invariant check
//   - AssertNonDecreasing: Checkpoints never move backwards
//
// Example usage:
//
//	import (
//	    "testing"
//	    cftest "github.com/arloliu/changefeed/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := cftest.StartEmbeddedNATS(t)
//	    kv := cftest.CreateJetStreamKV(t, nc, "leases")
//	}
package testing
