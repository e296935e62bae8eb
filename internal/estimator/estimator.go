// Package estimator computes how far lease checkpoints trail the feed.
//
// The estimator only reads: it never creates, renews or writes a lease, so
// any instance can run it, including one that owns no partitions.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// UnknownLag is reported for a lease whose lag could not be computed.
const UnknownLag int64 = -1

const defaultConcurrency = 8

// Config holds the estimator settings.
type Config struct {
	Prefix    string
	StartFrom types.StartPosition

	// Concurrency bounds parallel feed calls (default: 8).
	Concurrency int

	// OperationTimeout bounds each store or feed call (0 = only the caller's context).
	OperationTimeout time.Duration
}

// Estimator measures lag as the distance between each lease's persisted
// checkpoint and the current head of its partition.
type Estimator struct {
	cfg     Config
	store   types.LeaseStore
	source  types.FeedSource
	logger  types.Logger
	metrics types.EstimatorMetrics
}

// New creates an estimator.
//
// Parameters:
//   - cfg: Prefix, start policy and limits
//   - store: Lease store to read checkpoints from
//   - source: Feed to measure against
//   - logger: Logger (nil = no-op)
//   - m: Estimator metrics (nil = no-op)
//
// Returns:
//   - *Estimator: Ready-to-use estimator
func New(cfg Config, store types.LeaseStore, source types.FeedSource, logger types.Logger, m types.EstimatorMetrics) *Estimator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Estimator{cfg: cfg, store: store, source: source, logger: logger, metrics: m}
}

// Estimate returns the number of changes after lease's checkpoint.
//
// A lease that was never checkpointed is measured from where its worker will
// start, so a start-from-now processor with nothing new reports 0. Changes
// recorded before a worker resolves "now" are never delivered, so they do not
// count. The estimator must share the processors' StartFrom for these rows to
// match. A partition that no longer exists has nothing left to process and
// reports 0.
func (e *Estimator) Estimate(ctx context.Context, lease types.Lease) (int64, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	token := lease.ContinuationToken
	if token == "" {
		resolved, err := e.cfg.StartFrom.For(lease).Resolve(ctx, e.source, lease.PartitionID)
		if err != nil {
			if errors.Is(err, types.ErrPartitionGone) {
				return 0, nil
			}

			return UnknownLag, fmt.Errorf("resolve start of %s: %w", lease.PartitionID, err)
		}
		token = resolved
	}

	lag, err := e.source.EstimateLag(ctx, lease.PartitionID, token)
	if err != nil {
		if errors.Is(err, types.ErrPartitionGone) {
			return 0, nil
		}

		return UnknownLag, fmt.Errorf("estimate lag of %s: %w", lease.PartitionID, err)
	}

	return lag, nil
}

// EstimateAll returns the lag of every lease under the prefix.
//
// Leases are measured in parallel. A lease whose lag cannot be computed is
// logged and reported as UnknownLag instead of failing the whole call.
//
// Returns:
//   - map[string]int64: Lag per partition ID
//   - error: Lease listing failure
func (e *Estimator) EstimateAll(ctx context.Context) (map[string]int64, error) {
	states, err := e.CurrentState(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(states))
	for _, s := range states {
		out[s.PartitionID] = s.EstimatedLag
	}

	return out, nil
}

// CurrentState returns owner, checkpoint and lag of every lease, sorted by partition ID.
func (e *Estimator) CurrentState(ctx context.Context) ([]types.LeaseState, error) {
	leases, err := e.list(ctx)
	if err != nil {
		return nil, err
	}

	// Each goroutine writes only its own slot.
	states := make([]types.LeaseState, len(leases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, lease := range leases {
		g.Go(func() error {
			lag, err := e.Estimate(gctx, lease)
			if err != nil {
				e.logger.Warn("lag estimation failed", "partition_id", lease.PartitionID, "error", err)
				lag = UnknownLag
			}
			e.metrics.RecordEstimatedLag(lease.PartitionID, lag)

			states[i] = types.LeaseState{
				PartitionID:       lease.PartitionID,
				HostName:          lease.Owner,
				ContinuationToken: lease.ContinuationToken,
				EstimatedLag:      lag,
			}

			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return states, nil
}

func (e *Estimator) list(ctx context.Context) ([]types.Lease, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	leases, err := e.store.List(ctx, e.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list leases of %s: %w", e.cfg.Prefix, err)
	}

	return leases, nil
}

func (e *Estimator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}
