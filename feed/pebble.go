package feed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/juju/clock"

	"github.com/arloliu/changefeed/types"
)

const defaultMaxItems = 100

// Key layout:
//
//	meta/<partition>              JSON partitionMeta
//	log/<partition>/<seq:be64>    JSON types.Change
//
// Partition IDs never contain '/', so each partition owns a disjoint key range.
const (
	metaPrefix = "meta/"
	logPrefix  = "log/"
)

type partitionMeta struct {
	LastSeq   uint64    `json:"lastSeq"`
	Retired   bool      `json:"retired,omitempty"`
	Parents   []string  `json:"parents,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PebbleOptions configures a Pebble feed.
type PebbleOptions struct {
	// Dir is the database directory. Required.
	Dir string

	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS

	// NoSync skips the WAL fsync on appends.
	NoSync bool

	// Clock stamps changes appended without a timestamp (default: wall clock).
	Clock clock.Clock
}

// Pebble is a durable, partitioned change log.
//
// Each partition is an append-only sequence of changes. Split and Merge retire
// partitions and create children whose Parents name them; a retired partition
// keeps serving reads until it is drained and then reports types.ErrPartitionGone.
type Pebble struct {
	db        *pebble.DB
	clock     clock.Clock
	writeSync pebble.WriteOptions

	// mu serializes writers; readers go straight to the DB.
	mu sync.Mutex
}

var _ types.FeedSource = (*Pebble)(nil)

// OpenPebble opens or creates a Pebble feed.
//
// Parameters:
//   - opts: Database location and write options
//
// Returns:
//   - *Pebble: Opened feed (Close when done)
//   - error: Open failure
//
// Example:
//
//	src, err := feed.OpenPebble(feed.PebbleOptions{Dir: "/var/lib/orders-feed"})
//	if err != nil { /* handle */ }
//	defer src.Close()
func OpenPebble(opts PebbleOptions) (*Pebble, error) {
	if opts.Dir == "" {
		return nil, errors.New("feed: PebbleOptions.Dir is required")
	}

	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}

	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("feed: open pebble at %s: %w", opts.Dir, err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	wo := *pebble.Sync
	if opts.NoSync {
		wo = *pebble.NoSync
	}

	return &Pebble{db: db, clock: clk, writeSync: wo}, nil
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}

	return p.db.Close()
}

// CreatePartition registers a new, empty partition.
//
// Returns:
//   - error: types.ErrInvalidPartitionID, or an error if the partition exists
func (p *Pebble) CreatePartition(ctx context.Context, id string, parents ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := types.ValidatePartitionID(id); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()

	if err := p.stageCreate(b, id, parents); err != nil {
		return err
	}

	return b.Commit(&p.writeSync)
}

// Append adds changes to the end of a partition.
//
// Sequences are assigned in order. Changes without a timestamp are stamped
// with the feed clock and changes without an operation become replaces.
//
// Returns:
//   - string: Token of the last appended change
//   - error: types.ErrPartitionGone for unknown or retired partitions
func (p *Pebble) Append(ctx context.Context, partitionID string, changes ...types.Change) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	meta, err := p.loadMeta(partitionID)
	if err != nil {
		return "", err
	}
	if meta.Retired {
		return "", fmt.Errorf("append to %s: %w", partitionID, types.ErrPartitionGone)
	}

	b := p.db.NewBatch()
	defer b.Close()

	for _, c := range changes {
		if c.ID == "" {
			return "", fmt.Errorf("append to %s: change without id", partitionID)
		}
		meta.LastSeq++
		c.Sequence = meta.LastSeq
		if c.Timestamp.IsZero() {
			c.Timestamp = p.clock.Now().UTC()
		}
		if c.Operation == "" {
			c.Operation = types.OperationReplace
		}

		data, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("append to %s: %w", partitionID, err)
		}
		if err := b.Set(logKey(partitionID, c.Sequence), data, nil); err != nil {
			return "", err
		}
	}

	if err := p.stageMeta(b, partitionID, meta); err != nil {
		return "", err
	}
	if err := b.Commit(&p.writeSync); err != nil {
		return "", fmt.Errorf("append to %s: %w", partitionID, err)
	}

	return FormatToken(meta.LastSeq), nil
}

// Split retires partitionID and creates children that continue its key range.
func (p *Pebble) Split(ctx context.Context, partitionID string, children ...string) error {
	if len(children) < 2 {
		return fmt.Errorf("split %s: need at least two children", partitionID)
	}

	return p.retire(ctx, []string{partitionID}, children)
}

// Merge retires parents and creates one child that continues their key ranges.
func (p *Pebble) Merge(ctx context.Context, child string, parents ...string) error {
	if len(parents) < 2 {
		return fmt.Errorf("merge into %s: need at least two parents", child)
	}

	return p.retire(ctx, parents, []string{child})
}

func (p *Pebble) retire(ctx context.Context, parents, children []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range children {
		if err := types.ValidatePartitionID(id); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()

	for _, id := range parents {
		meta, err := p.loadMeta(id)
		if err != nil {
			return err
		}
		if meta.Retired {
			return fmt.Errorf("retire %s: %w", id, types.ErrPartitionGone)
		}
		meta.Retired = true
		if err := p.stageMeta(b, id, meta); err != nil {
			return err
		}
	}
	for _, id := range children {
		if err := p.stageCreate(b, id, parents); err != nil {
			return err
		}
	}

	return b.Commit(&p.writeSync)
}

// ListPartitions returns the partitions that are not retired, sorted by ID.
func (p *Pebble) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: []byte(metaPrefix), UpperBound: upperBound(metaPrefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []types.Partition
	for ok := it.First(); ok; ok = it.Next() {
		var meta partitionMeta
		if err := json.Unmarshal(it.Value(), &meta); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		if meta.Retired {
			continue
		}
		out = append(out, types.Partition{
			ID:      string(it.Key()[len(metaPrefix):]),
			Parents: slices.Clone(meta.Parents),
		})
	}

	return out, it.Error()
}

// ReadChanges reads up to req.MaxItems changes after req.ContinuationToken.
//
// The returned token always advances past every raw change read, including
// changes that the mode filter hides.
func (p *Pebble) ReadChanges(ctx context.Context, req types.ReadRequest) (types.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return types.ReadResult{}, err
	}

	after, err := ParseToken(req.ContinuationToken)
	if err != nil {
		return types.ReadResult{}, err
	}
	meta, err := p.loadMeta(req.PartitionID)
	if err != nil {
		return types.ReadResult{}, err
	}
	if after > meta.LastSeq {
		return types.ReadResult{}, fmt.Errorf("%w: %s is past head %d of %s",
			types.ErrInvalidToken, req.ContinuationToken, meta.LastSeq, req.PartitionID)
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: logKey(req.PartitionID, after+1),
		UpperBound: upperBound(logPrefix + req.PartitionID + "/"),
	})
	if err != nil {
		return types.ReadResult{}, err
	}
	defer func() { _ = it.Close() }()

	raw := make([]types.Change, 0, min(maxItems, int(meta.LastSeq-after))) //nolint:gosec // bounded by maxItems
	ok := it.First()
	for ; ok && len(raw) < maxItems; ok = it.Next() {
		var c types.Change
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return types.ReadResult{}, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		raw = append(raw, c)
	}
	if err := it.Error(); err != nil {
		return types.ReadResult{}, err
	}

	if len(raw) == 0 {
		if meta.Retired {
			return types.ReadResult{}, fmt.Errorf("read %s: %w", req.PartitionID, types.ErrPartitionGone)
		}

		return types.ReadResult{ContinuationToken: FormatToken(after)}, nil
	}

	return types.ReadResult{
		Changes:           ApplyMode(raw, req.Mode),
		ContinuationToken: FormatToken(raw[len(raw)-1].Sequence),
		More:              ok,
	}, nil
}

// HeadPosition returns the token of the newest change in the partition.
func (p *Pebble) HeadPosition(ctx context.Context, partitionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	meta, err := p.loadMeta(partitionID)
	if err != nil {
		return "", err
	}

	return FormatToken(meta.LastSeq), nil
}

// PositionAt returns the token just before the first change recorded at or after t.
func (p *Pebble) PositionAt(ctx context.Context, partitionID string, t time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	meta, err := p.loadMeta(partitionID)
	if err != nil {
		return "", err
	}

	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(logPrefix + partitionID + "/"),
		UpperBound: upperBound(logPrefix + partitionID + "/"),
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = it.Close() }()

	for ok := it.First(); ok; ok = it.Next() {
		var c types.Change
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return "", fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		if !c.Timestamp.Before(t) {
			return FormatToken(c.Sequence - 1), nil
		}
	}
	if err := it.Error(); err != nil {
		return "", err
	}

	return FormatToken(meta.LastSeq), nil
}

// EstimateLag returns the number of changes after token.
func (p *Pebble) EstimateLag(ctx context.Context, partitionID, token string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	after, err := ParseToken(token)
	if err != nil {
		return 0, err
	}
	meta, err := p.loadMeta(partitionID)
	if err != nil {
		return 0, err
	}
	if after > meta.LastSeq {
		return 0, fmt.Errorf("%w: %s is past head %d of %s", types.ErrInvalidToken, token, meta.LastSeq, partitionID)
	}

	return int64(meta.LastSeq - after), nil //nolint:gosec // sequences stay far below MaxInt64
}

func (p *Pebble) loadMeta(partitionID string) (partitionMeta, error) {
	val, closer, err := p.db.Get([]byte(metaPrefix + partitionID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return partitionMeta{}, fmt.Errorf("partition %s: %w", partitionID, types.ErrPartitionGone)
		}

		return partitionMeta{}, err
	}
	defer closer.Close()

	var meta partitionMeta
	if err := json.Unmarshal(val, &meta); err != nil {
		return partitionMeta{}, fmt.Errorf("decode meta of %s: %w", partitionID, err)
	}

	return meta, nil
}

func (p *Pebble) stageCreate(b *pebble.Batch, id string, parents []string) error {
	_, closer, err := p.db.Get([]byte(metaPrefix + id))
	if err == nil {
		_ = closer.Close()
		return fmt.Errorf("partition %s already exists", id)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	return p.stageMeta(b, id, partitionMeta{Parents: slices.Clone(parents), CreatedAt: p.clock.Now().UTC()})
}

func (p *Pebble) stageMeta(b *pebble.Batch, id string, meta partitionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return b.Set([]byte(metaPrefix+id), data, nil)
}

func logKey(partitionID string, seq uint64) []byte {
	key := make([]byte, 0, len(logPrefix)+len(partitionID)+1+8)
	key = append(key, logPrefix...)
	key = append(key, partitionID...)
	key = append(key, '/')

	return binary.BigEndian.AppendUint64(key, seq)
}

func upperBound(prefix string) []byte {
	return append([]byte(prefix), 0xFF)
}
