// Package feedworker runs the per-partition read, handle and checkpoint loop.
package feedworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/arloliu/changefeed/internal/backoff"
	"github.com/arloliu/changefeed/internal/hooks"
	"github.com/arloliu/changefeed/internal/leasemgr"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Config holds the polling settings of a worker.
type Config struct {
	PollDelay time.Duration
	MaxItems  int
	Mode      types.FeedMode
	StartFrom types.StartPosition

	// OperationTimeout bounds each feed read (0 = only the caller's context).
	OperationTimeout time.Duration
}

// Worker delivers the changes of owned partitions to a handler.
//
// One Worker value serves every partition of a processor; Run is called once
// per owned lease and returns when that lease is done.
type Worker struct {
	cfg     Config
	source  types.FeedSource
	handler types.Handler
	leases  *leasemgr.Manager
	clock   clock.Clock
	logger  types.Logger
	metrics types.WorkerMetrics
	hooks   *hooks.Dispatcher
	retry   *backoff.Policy
}

// New creates a worker.
//
// Parameters:
//   - cfg: Polling settings
//   - source: Feed to read from
//   - handler: User handler
//   - leases: Lease manager used for checkpoints
//   - logger: Logger (nil = no-op)
//   - m: Worker metrics (nil = no-op)
//   - d: Hook dispatcher (nil = no hooks)
//
// Returns:
//   - *Worker: Ready-to-run worker
func New(
	cfg Config,
	source types.FeedSource,
	handler types.Handler,
	leases *leasemgr.Manager,
	logger types.Logger,
	m types.WorkerMetrics,
	d *hooks.Dispatcher,
) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if d == nil {
		d = hooks.NewDispatcher(nil, logger)
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = time.Second
	}

	base := max(cfg.PollDelay/4, 10*time.Millisecond)

	return &Worker{
		cfg:     cfg,
		source:  source,
		handler: handler,
		leases:  leases,
		clock:   leases.Clock(),
		logger:  logger,
		metrics: m,
		hooks:   d,
		retry:   backoff.New(base, 2.0, 4*cfg.PollDelay, 0),
	}
}

// Run processes the partition of h until ctx ends or the lease is lost.
//
// The loop reads a batch after the current token, hands non-empty batches to
// the handler and checkpoints the next token once the handler succeeded. A
// failing handler or feed read is retried after a jittered backoff without
// moving the checkpoint, so no change is skipped.
//
// Parameters:
//   - ctx: Cancelled on shutdown
//   - h: Handle of the owned lease
//
// Returns:
//   - error: ctx.Err() on shutdown, an error wrapping types.ErrLeaseLost when
//     ownership is gone, or one wrapping types.ErrPartitionGone when the
//     partition was split or merged away and fully drained
func (w *Worker) Run(ctx context.Context, h *leasemgr.Handle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Losing the lease interrupts a blocked read or handler call.
	go func() {
		select {
		case <-h.Lost():
			cancel()
		case <-ctx.Done():
		}
	}()

	pid := h.PartitionID()
	logger := logging.With(w.logger, "partition_id", pid)

	token, err := w.startToken(ctx, h, logger)
	if err != nil {
		return w.exitErr(ctx, h, err)
	}
	persisted := h.ContinuationToken()

	var (
		delay time.Duration
		more  bool
	)
	for {
		wait := w.cfg.PollDelay
		switch {
		case delay > 0:
			wait = delay
		case more:
			wait = 0
		}
		if err := w.sleep(ctx, wait); err != nil {
			return w.exitErr(ctx, h, err)
		}

		res, err := w.read(ctx, pid, token)
		if err != nil {
			if errors.Is(err, types.ErrPartitionGone) || ctx.Err() != nil {
				return w.exitErr(ctx, h, err)
			}
			w.metrics.RecordFeedReadError(pid)
			logger.Warn("feed read failed", "token", token, "error", err)
			w.hooks.Error(ctx, pid, err)
			delay = w.retry.Next(delay)

			continue
		}

		if len(res.Changes) > 0 {
			batch := types.Batch{PartitionID: pid, Changes: res.Changes, ContinuationToken: res.ContinuationToken}
			start := w.clock.Now()
			if err := w.invoke(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return w.exitErr(ctx, h, err)
				}
				w.metrics.RecordHandlerError(pid)
				logger.Warn("handler failed, batch will be retried", "token", token, "size", batch.Len(), "error", err)
				w.hooks.Error(ctx, pid, err)
				delay = w.retry.Next(delay)
				more = true

				continue
			}
			w.metrics.RecordBatch(pid, batch.Len(), w.clock.Now().Sub(start).Seconds())
		}

		token = res.ContinuationToken
		more = res.More
		delay = 0

		if token != persisted {
			if err := w.leases.Checkpoint(ctx, h, token); err != nil {
				w.metrics.RecordCheckpoint(pid, false)
				if errors.Is(err, types.ErrLeaseLost) || ctx.Err() != nil {
					return w.exitErr(ctx, h, err)
				}
				// The next successful checkpoint persists this token too.
				logger.Warn("checkpoint failed", "token", token, "error", err)

				continue
			}
			w.metrics.RecordCheckpoint(pid, true)
			persisted = token
		}
	}
}

// startToken returns the token to read after, resolving and checkpointing the
// start position for a lease that has never been checkpointed.
func (w *Worker) startToken(ctx context.Context, h *leasemgr.Handle, logger types.Logger) (string, error) {
	if token := h.ContinuationToken(); token != "" {
		return token, nil
	}

	start := w.cfg.StartFrom.For(h.Lease())
	var delay time.Duration
	for {
		token, err := start.Resolve(ctx, w.source, h.PartitionID())
		if err == nil {
			if token == "" {
				return "", nil
			}
			err = w.leases.Checkpoint(ctx, h, token)
			if err == nil {
				logger.Debug("start position resolved", "token", token, "start_from", string(start.Kind))
				return token, nil
			}
		}
		if errors.Is(err, types.ErrLeaseLost) || errors.Is(err, types.ErrPartitionGone) || ctx.Err() != nil {
			return "", err
		}

		logger.Warn("resolving start position failed", "error", err)
		delay = w.retry.Next(delay)
		if err := w.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (w *Worker) read(ctx context.Context, pid, token string) (types.ReadResult, error) {
	if w.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.OperationTimeout)
		defer cancel()
	}

	return w.source.ReadChanges(ctx, types.ReadRequest{
		PartitionID:       pid,
		ContinuationToken: token,
		MaxItems:          w.cfg.MaxItems,
		Mode:              w.cfg.Mode,
	})
}

// invoke calls the handler, turning a panic into an error.
func (w *Worker) invoke(ctx context.Context, batch types.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return w.handler.Handle(ctx, batch)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}

// exitErr reports a lost lease as types.ErrLeaseLost even when it surfaced as
// a cancelled context.
func (w *Worker) exitErr(ctx context.Context, h *leasemgr.Handle, err error) error {
	if errors.Is(err, types.ErrPartitionGone) || errors.Is(err, types.ErrLeaseLost) {
		return err
	}
	if h.IsLost() {
		return fmt.Errorf("%s: %w", h.PartitionID(), types.ErrLeaseLost)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}
