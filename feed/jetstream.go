package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/changefeed/internal/kvutil"
	"github.com/arloliu/changefeed/internal/natsutil"
	"github.com/arloliu/changefeed/types"
)

// JetStreamConfig configures a JetStream-backed feed.
type JetStreamConfig struct {
	// Stream is the stream name (default: "CHANGEFEED").
	Stream string `yaml:"stream"`

	// SubjectPrefix is prepended to partition IDs to form subjects (default: "changefeed").
	SubjectPrefix string `yaml:"subjectPrefix"`

	// Replicas is the stream replication factor (default: 1).
	Replicas int `yaml:"replicas"`

	// MemoryStorage keeps the stream in memory instead of on disk.
	MemoryStorage bool `yaml:"memoryStorage"`

	// MaxRetries bounds stream creation attempts (default: 3).
	MaxRetries int `yaml:"maxRetries"`

	// ReaderInactiveThreshold is how long the server keeps an abandoned reader
	// consumer (default: 30s).
	ReaderInactiveThreshold time.Duration `yaml:"readerInactiveThreshold"`
}

// SetDefaults fills zero fields with defaults.
func (c *JetStreamConfig) SetDefaults() {
	if c.Stream == "" {
		c.Stream = "CHANGEFEED"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "changefeed"
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.ReaderInactiveThreshold <= 0 {
		c.ReaderInactiveThreshold = 30 * time.Second
	}
}

// JetStream is a change feed stored in one JetStream stream.
//
// Each partition is the subject "<SubjectPrefix>.<partition>" and tokens are
// stream sequences. Reads use short-lived pull consumers filtered to the
// partition subject, so the source keeps no per-partition client state.
// The partition list comes from a Static list; a partition removed from the
// list is drained and then reported as types.ErrPartitionGone.
type JetStream struct {
	js         jetstream.JetStream
	stream     jetstream.Stream
	cfg        JetStreamConfig
	partitions *Static
	clock      clock.Clock
}

var _ types.FeedSource = (*JetStream)(nil)

// OpenJetStream creates or updates the feed stream.
//
// Parameters:
//   - ctx: Context for stream creation
//   - js: JetStream context
//   - cfg: Stream configuration (zero values use defaults)
//   - partitions: Partition list
//
// Returns:
//   - *JetStream: Feed bound to the stream
//   - error: Stream creation error after retries
func OpenJetStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig, partitions *Static) (*JetStream, error) {
	cfg.SetDefaults()
	if partitions == nil {
		partitions = NewStatic(nil)
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	stream, err := kvutil.EnsureStreamWithRetry(ctx, js, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "changefeed change log",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     storage,
		Replicas:    cfg.Replicas,
	}, cfg.MaxRetries)
	if err != nil {
		return nil, natsutil.WrapUnavailable(err)
	}

	return &JetStream{js: js, stream: stream, cfg: cfg, partitions: partitions, clock: clock.WallClock}, nil
}

// Publish appends one change to a partition.
//
// Returns:
//   - string: Token of the published change
//   - error: Validation or publish error
func (s *JetStream) Publish(ctx context.Context, partitionID string, change types.Change) (string, error) {
	subject, err := s.subject(partitionID)
	if err != nil {
		return "", err
	}
	if change.ID == "" {
		return "", fmt.Errorf("publish to %s: change without id", partitionID)
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = s.clock.Now().UTC()
	}
	if change.Operation == "" {
		change.Operation = types.OperationReplace
	}
	change.Sequence = 0

	data, err := json.Marshal(change)
	if err != nil {
		return "", err
	}

	ack, err := s.js.Publish(ctx, subject, data)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", partitionID, natsutil.WrapUnavailable(err))
	}

	return FormatToken(ack.Sequence), nil
}

// ListPartitions returns the configured partitions.
func (s *JetStream) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	return s.partitions.ListPartitions(ctx)
}

// ReadChanges reads up to req.MaxItems changes after req.ContinuationToken.
func (s *JetStream) ReadChanges(ctx context.Context, req types.ReadRequest) (types.ReadResult, error) {
	after, err := ParseToken(req.ContinuationToken)
	if err != nil {
		return types.ReadResult{}, err
	}
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	cons, err := s.reader(ctx, req.PartitionID, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   after + 1,
	})
	if err != nil {
		return types.ReadResult{}, err
	}
	defer s.dropReader(cons)

	pending := cons.CachedInfo().NumPending
	if pending == 0 {
		if !s.partitions.Contains(req.PartitionID) {
			return types.ReadResult{}, fmt.Errorf("read %s: %w", req.PartitionID, types.ErrPartitionGone)
		}

		return types.ReadResult{ContinuationToken: FormatToken(after)}, nil
	}

	batch, err := cons.FetchNoWait(maxItems)
	if err != nil {
		return types.ReadResult{}, fmt.Errorf("read %s: %w", req.PartitionID, natsutil.WrapUnavailable(err))
	}

	raw := make([]types.Change, 0, maxItems)
	next := after
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			return types.ReadResult{}, fmt.Errorf("read %s: %w", req.PartitionID, err)
		}

		var c types.Change
		if err := json.Unmarshal(msg.Data(), &c); err != nil {
			return types.ReadResult{}, fmt.Errorf("read %s: decode seq %d: %w", req.PartitionID, meta.Sequence.Stream, err)
		}
		c.Sequence = meta.Sequence.Stream
		raw = append(raw, c)
		next = c.Sequence
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		return types.ReadResult{}, fmt.Errorf("read %s: %w", req.PartitionID, natsutil.WrapUnavailable(err))
	}

	return types.ReadResult{
		Changes:           ApplyMode(raw, req.Mode),
		ContinuationToken: FormatToken(next),
		More:              pending > uint64(len(raw)),
	}, nil
}

// HeadPosition returns the last sequence of the stream.
//
// Later changes of any partition get larger sequences, so the stream head
// is a valid head for every partition.
func (s *JetStream) HeadPosition(ctx context.Context, partitionID string) (string, error) {
	if _, err := s.subject(partitionID); err != nil {
		return "", err
	}

	info, err := s.stream.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("head of %s: %w", partitionID, natsutil.WrapUnavailable(err))
	}

	return FormatToken(info.State.LastSeq), nil
}

// PositionAt returns the token just before the first change of the partition
// recorded by the server at or after t.
func (s *JetStream) PositionAt(ctx context.Context, partitionID string, t time.Time) (string, error) {
	cons, err := s.reader(ctx, partitionID, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartTimePolicy,
		OptStartTime:  &t,
	})
	if err != nil {
		return "", err
	}
	defer s.dropReader(cons)

	if cons.CachedInfo().NumPending == 0 {
		return s.HeadPosition(ctx, partitionID)
	}

	batch, err := cons.FetchNoWait(1)
	if err != nil {
		return "", fmt.Errorf("position of %s: %w", partitionID, natsutil.WrapUnavailable(err))
	}
	msg, ok := <-batch.Messages()
	if !ok {
		return s.HeadPosition(ctx, partitionID)
	}
	meta, err := msg.Metadata()
	if err != nil {
		return "", err
	}

	return FormatToken(meta.Sequence.Stream - 1), nil
}

// EstimateLag returns the number of partition changes after token.
func (s *JetStream) EstimateLag(ctx context.Context, partitionID, token string) (int64, error) {
	after, err := ParseToken(token)
	if err != nil {
		return 0, err
	}

	cons, err := s.reader(ctx, partitionID, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   after + 1,
	})
	if err != nil {
		return 0, err
	}
	defer s.dropReader(cons)

	return int64(cons.CachedInfo().NumPending), nil //nolint:gosec // pending counts stay far below MaxInt64
}

// reader creates an ephemeral, ack-free consumer filtered to one partition.
func (s *JetStream) reader(ctx context.Context, partitionID string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	subject, err := s.subject(partitionID)
	if err != nil {
		return nil, err
	}

	cfg.FilterSubject = subject
	cfg.AckPolicy = jetstream.AckNonePolicy
	cfg.InactiveThreshold = s.cfg.ReaderInactiveThreshold
	cfg.MemoryStorage = true

	cons, err := s.stream.CreateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reader for %s: %w", partitionID, natsutil.WrapUnavailable(err))
	}

	return cons, nil
}

func (s *JetStream) dropReader(cons jetstream.Consumer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The inactive threshold removes the consumer if this fails.
	_ = s.stream.DeleteConsumer(ctx, cons.CachedInfo().Name)
}

func (s *JetStream) subject(partitionID string) (string, error) {
	if err := types.ValidatePartitionID(partitionID); err != nil {
		return "", err
	}
	if strings.ContainsAny(partitionID, ".*>") {
		return "", fmt.Errorf("%w: %q is not a valid subject token", types.ErrInvalidPartitionID, partitionID)
	}

	return s.cfg.SubjectPrefix + "." + partitionID, nil
}
