// Package types provides core type definitions and interfaces for the changefeed library.
//
// This package contains shared types that are used across multiple packages in the
// changefeed library. By keeping these types in a separate package, we avoid import cycles
// between the root changefeed package and its internal implementations.
//
// Key types:
//   - Lease: Persisted ownership and checkpoint record for one partition
//   - LeaseStore: Conditional-write persistence contract for leases
//   - FeedSource: Narrow read interface over the ordered change stream
//   - Handler: User callback receiving batches of changes
//   - State: Processor lifecycle state
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
