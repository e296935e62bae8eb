package types

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Operation is the kind of change recorded in the feed.
type Operation string

const (
	// OperationCreate records a newly created item.
	OperationCreate Operation = "create"

	// OperationReplace records a new version of an existing item.
	OperationReplace Operation = "replace"

	// OperationDelete records a deleted item. Only delivered in
	// FeedModeAllVersionsAndDeletes.
	OperationDelete Operation = "delete"
)

// Change is one entry of the ordered change stream.
type Change struct {
	// ID identifies the changed item.
	ID string `json:"id"`

	// Operation is the change kind (defaults to replace semantics when empty).
	Operation Operation `json:"op,omitempty"`

	// Data is the item body after the change.
	Data json.RawMessage `json:"data,omitempty"`

	// Timestamp is when the change was recorded.
	Timestamp time.Time `json:"ts"`

	// Sequence is the position of the change within its source, assigned by the feed.
	Sequence uint64 `json:"seq,omitempty"`
}

// Batch is the unit delivered to a Handler.
type Batch struct {
	// PartitionID is the partition the changes were read from.
	PartitionID string

	// Changes holds the changes in feed order.
	Changes []Change

	// ContinuationToken is the position checkpointed when the handler succeeds.
	ContinuationToken string
}

// Len returns the number of changes in the batch.
func (b Batch) Len() int {
	return len(b.Changes)
}

// Partition describes one partition reported by a FeedSource.
type Partition struct {
	// ID identifies the partition range.
	ID string `json:"id"`

	// Parents lists the partitions this one was split or merged from.
	Parents []string `json:"parents,omitempty"`
}

// FeedMode selects which changes are delivered.
type FeedMode string

const (
	// FeedModeLatestVersion delivers the latest version of each changed item and hides deletes.
	FeedModeLatestVersion FeedMode = "latestVersion"

	// FeedModeAllVersionsAndDeletes delivers every intermediate version and every delete.
	FeedModeAllVersionsAndDeletes FeedMode = "allVersionsAndDeletes"
)

// ReadRequest describes one bounded read from a partition.
type ReadRequest struct {
	// PartitionID is the partition to read.
	PartitionID string

	// ContinuationToken is the exclusive start position. Empty reads from the beginning.
	ContinuationToken string

	// MaxItems bounds the number of changes returned.
	MaxItems int

	// Mode selects latest-version or all-versions delivery.
	Mode FeedMode
}

// ReadResult is the outcome of a ReadRequest.
type ReadResult struct {
	// Changes holds the delivered changes (after mode filtering).
	Changes []Change

	// ContinuationToken is the position after the last consumed change.
	ContinuationToken string

	// More reports whether changes remain after ContinuationToken.
	More bool
}

// FeedSource is the narrow read interface over the ordered change stream.
//
// Tokens are opaque to the coordinator. The empty token means "before the
// first change". Sources report a partition that was split or merged away with
// ErrPartitionGone once all of its changes have been read.
//
// Concurrency: Implementations must be safe for concurrent use across partitions.
type FeedSource interface {
	// ListPartitions returns the partitions that currently accept reads.
	ListPartitions(ctx context.Context) ([]Partition, error)

	// ReadChanges reads the next batch of changes after req.ContinuationToken.
	ReadChanges(ctx context.Context, req ReadRequest) (ReadResult, error)

	// HeadPosition returns the token positioned after the newest change.
	HeadPosition(ctx context.Context, partitionID string) (string, error)

	// PositionAt returns the token positioned before the first change recorded at or after t.
	PositionAt(ctx context.Context, partitionID string, t time.Time) (string, error)

	// EstimateLag counts the changes after token without consuming them.
	EstimateLag(ctx context.Context, partitionID, token string) (int64, error)
}

// StartKind selects where a partition without a checkpoint starts reading.
type StartKind string

const (
	// StartFromBeginning reads every retained change.
	StartFromBeginning StartKind = "beginning"

	// StartFromNow reads only changes recorded after the partition is first processed.
	StartFromNow StartKind = "now"

	// StartFromTime reads changes recorded at or after StartPosition.Time.
	StartFromTime StartKind = "time"

	// StartFromToken reads changes after StartPosition.Token.
	StartFromToken StartKind = "token"
)

// StartPosition is the start-position policy for partitions without a checkpoint.
type StartPosition struct {
	Kind  StartKind `yaml:"kind"`
	Time  time.Time `yaml:"time"`
	Token string    `yaml:"token"`
}

// Validate checks that the payload required by Kind is present.
func (p StartPosition) Validate() error {
	switch p.Kind {
	case StartFromBeginning, StartFromNow:
		return nil
	case StartFromTime:
		if p.Time.IsZero() {
			return fmt.Errorf("start position %q requires a time", p.Kind)
		}

		return nil
	case StartFromToken:
		if p.Token == "" {
			return fmt.Errorf("start position %q requires a token", p.Kind)
		}

		return nil
	default:
		return fmt.Errorf("unknown start position %q", p.Kind)
	}
}

// Resolve converts the policy into a concrete token for one partition.
//
// Parameters:
//   - ctx: Context for the feed calls
//   - src: Feed source that owns the partition
//   - partitionID: Partition to resolve
//
// Returns:
//   - string: Token to read after
//   - error: Feed error, or a validation error for an unknown kind
func (p StartPosition) Resolve(ctx context.Context, src FeedSource, partitionID string) (string, error) {
	switch p.Kind {
	case StartFromBeginning, "":
		return "", nil
	case StartFromNow:
		return src.HeadPosition(ctx, partitionID)
	case StartFromTime:
		return src.PositionAt(ctx, partitionID, p.Time)
	case StartFromToken:
		return p.Token, nil
	default:
		return "", fmt.Errorf("unknown start position %q", p.Kind)
	}
}

// For returns the policy that applies to lease.
//
// A partition created by a split or merge always starts at the beginning of
// its own range, whatever the configured policy, so nothing written after its
// parents were retired is skipped.
func (p StartPosition) For(lease Lease) StartPosition {
	if len(lease.Parents) > 0 {
		return StartPosition{Kind: StartFromBeginning}
	}

	return p
}

// ValidatePartitionID rejects IDs the stores and feeds cannot address.
//
// A valid ID is non-empty, has no whitespace or control characters, and
// contains no '/' (used as a key separator by the local feed).
func ValidatePartitionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPartitionID)
	}
	if strings.ContainsRune(id, '/') {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidPartitionID, id)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidPartitionID, id)
		}
	}

	return nil
}
