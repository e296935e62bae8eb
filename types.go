package changefeed

import (
	"github.com/arloliu/changefeed/internal/estimator"
	"github.com/arloliu/changefeed/types"
)

// Re-export types from the types package.
//
// Internal packages depend on types only, never on the root package, which
// avoids import cycles while callers still write changefeed.Lease,
// changefeed.Handler and so on.
type (
	State         = types.State
	Lease         = types.Lease
	LeaseState    = types.LeaseState
	Change        = types.Change
	Batch         = types.Batch
	Partition     = types.Partition
	Operation     = types.Operation
	FeedMode      = types.FeedMode
	StartKind     = types.StartKind
	StartPosition = types.StartPosition
	ReadRequest   = types.ReadRequest
	ReadResult    = types.ReadResult
	ReleaseReason = types.ReleaseReason
	HandlerFunc   = types.HandlerFunc
	Hooks         = types.Hooks
)

// Re-export interfaces from the types package for convenience.
type (
	LeaseStore        = types.LeaseStore
	FeedSource        = types.FeedSource
	Handler           = types.Handler
	BalancingStrategy = types.BalancingStrategy
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
)

// Re-export State constants.
const (
	StateInit     = types.StateInit
	StateStarting = types.StateStarting
	StateRunning  = types.StateRunning
	StateStopping = types.StateStopping
	StateStopped  = types.StateStopped
)

// Re-export feed and start-position constants.
const (
	OperationCreate  = types.OperationCreate
	OperationReplace = types.OperationReplace
	OperationDelete  = types.OperationDelete

	FeedModeLatestVersion         = types.FeedModeLatestVersion
	FeedModeAllVersionsAndDeletes = types.FeedModeAllVersionsAndDeletes

	StartFromBeginning = types.StartFromBeginning
	StartFromNow       = types.StartFromNow
	StartFromTime      = types.StartFromTime
	StartFromToken     = types.StartFromToken

	ReleaseShutdown = types.ReleaseShutdown
	ReleaseLost     = types.ReleaseLost
	ReleaseRetired  = types.ReleaseRetired
)

// UnknownLag is the EstimatedLag of a lease whose lag could not be computed.
const UnknownLag = estimator.UnknownLag

// TotalLag sums per-partition lag, skipping unknown values.
func TotalLag(lag map[string]int64) int64 {
	return types.TotalLag(lag)
}
