// Package controller runs the partition controller: the loop that discovers
// partitions, balances lease ownership and supervises one worker per owned lease.
package controller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/changefeed/internal/backoff"
	"github.com/arloliu/changefeed/internal/feedworker"
	"github.com/arloliu/changefeed/internal/hooks"
	"github.com/arloliu/changefeed/internal/leasemgr"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Config holds the controller settings.
type Config struct {
	HostName string
	Prefix   string

	AcquireInterval    time.Duration
	AcquireJitterRatio float64

	// MaxScaleCount bounds the leases this instance runs (0 = unlimited).
	MaxScaleCount int

	// OperationTimeout bounds each store or feed call (0 = only the caller's context).
	OperationTimeout time.Duration
}

// Deps are the collaborators of a controller. Logger, Metrics and Hooks are optional.
type Deps struct {
	Store    types.LeaseStore
	Source   types.FeedSource
	Leases   *leasemgr.Manager
	Worker   *feedworker.Worker
	Strategy types.BalancingStrategy
	Logger   types.Logger
	Metrics  types.ProcessorMetrics
	Hooks    *hooks.Dispatcher
}

// Controller owns the acquisition loop of one processor instance.
//
// The running-worker registry is shared between the loop, which adds entries,
// and supervisors, which remove their own entry when they exit.
type Controller struct {
	cfg      Config
	store    types.LeaseStore
	source   types.FeedSource
	leases   *leasemgr.Manager
	worker   *feedworker.Worker
	strategy types.BalancingStrategy
	logger   types.Logger
	metrics  types.ProcessorMetrics
	hooks    *hooks.Dispatcher
	clock    clock.Clock
	jitter   *backoff.Policy

	running *xsync.Map[string, *supervisor]
	wg      sync.WaitGroup
}

// New creates a controller.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	d := deps.Hooks
	if d == nil {
		d = hooks.NewDispatcher(nil, logger)
	}

	return &Controller{
		cfg:      cfg,
		store:    deps.Store,
		source:   deps.Source,
		leases:   deps.Leases,
		worker:   deps.Worker,
		strategy: deps.Strategy,
		logger:   logging.With(logger, "host", cfg.HostName),
		metrics:  m,
		hooks:    d,
		clock:    deps.Leases.Clock(),
		jitter:   backoff.New(0, 1, 0, 0),
		running:  xsync.NewMap[string, *supervisor](),
	}
}

// Run executes controller passes every AcquireInterval until ctx ends.
//
// The first pass starts immediately. On return every worker and renewer has
// stopped and the leases they held were released.
//
// Returns:
//   - error: Always nil; store and feed failures are logged and retried
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown(ctx)

	c.cycle(ctx)

	timer := c.clock.NewTimer(c.cfg.AcquireInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.Chan():
		}

		c.cycle(ctx)
		timer.Reset(c.cfg.AcquireInterval)
	}
}

// OwnedPartitions returns the partitions with a running worker, sorted.
func (c *Controller) OwnedPartitions() []string {
	owned := make([]string, 0, c.running.Size())
	c.running.Range(func(pid string, _ *supervisor) bool {
		owned = append(owned, pid)
		return true
	})
	slices.Sort(owned)

	return owned
}

// cycle is one controller pass: list, discover, evict, balance, acquire.
func (c *Controller) cycle(ctx context.Context) {
	start := c.clock.Now()

	leases, err := c.list(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("listing leases failed, retrying next cycle", "error", err)
			c.metrics.RecordControllerCycle(c.clock.Now().Sub(start).Seconds(), false)
		}

		return
	}

	if created := c.discover(ctx, leases); created {
		if fresh, err := c.list(ctx); err == nil {
			leases = fresh
		}
	}

	c.evictStolen(leases)
	c.acquire(ctx, leases)

	c.metrics.RecordOwnedLeases(c.running.Size())
	c.metrics.RecordControllerCycle(c.clock.Now().Sub(start).Seconds(), true)
}

// discover creates lease rows for partitions that have none.
//
// A split or merge child is only created once none of its parents has a
// lease left, so a child never runs while a parent is still draining.
func (c *Controller) discover(ctx context.Context, leases []types.Lease) bool {
	parts, err := c.listPartitions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("listing partitions failed", "error", err)
		}

		return false
	}

	leased := make(map[string]struct{}, len(leases))
	for _, l := range leases {
		leased[l.PartitionID] = struct{}{}
	}

	created := false
	for _, p := range parts {
		if _, ok := leased[p.ID]; ok {
			continue
		}
		if slices.ContainsFunc(p.Parents, func(parent string) bool { _, ok := leased[parent]; return ok }) {
			continue
		}
		if c.createLease(ctx, p) {
			created = true
		}
	}

	return created
}

func (c *Controller) createLease(ctx context.Context, p types.Partition) bool {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	_, err := c.store.Create(opCtx, types.Lease{Prefix: c.cfg.Prefix, PartitionID: p.ID, Parents: p.Parents})
	switch {
	case err == nil:
		c.logger.Info("lease created", "partition_id", p.ID, "parents", p.Parents)
		return true
	case errors.Is(err, types.ErrLeaseExists):
		return false
	default:
		if ctx.Err() == nil {
			c.logger.Warn("creating lease failed", "partition_id", p.ID, "error", err)
		}

		return false
	}
}

// evictStolen stops workers whose lease row names another owner or is gone.
//
// Renewal catches the same condition; this only makes the stop prompt.
func (c *Controller) evictStolen(leases []types.Lease) {
	byID := make(map[string]types.Lease, len(leases))
	for _, l := range leases {
		byID[l.PartitionID] = l
	}

	c.running.Range(func(pid string, s *supervisor) bool {
		if l, ok := byID[pid]; !ok || !l.IsOwnedBy(c.cfg.HostName) {
			c.logger.Info("lease no longer owned, stopping worker", "partition_id", pid, "owner", l.Owner)
			s.evict()
		}

		return true
	})
}

// acquire asks the strategy what to take and starts a supervisor per won lease.
func (c *Controller) acquire(ctx context.Context, leases []types.Lease) {
	now := c.clock.Now()
	views := make([]types.LeaseView, len(leases))
	for i, l := range leases {
		_, running := c.running.Load(l.PartitionID)
		views[i] = types.LeaseView{Lease: l, Expired: c.leases.IsExpired(l, now), Running: running}
	}

	candidates := c.strategy.SelectLeasesToTake(c.cfg.HostName, views)
	if len(candidates) == 0 {
		return
	}

	// One jitter per cycle, so a pass over many candidates stays within one
	// acquire interval.
	maxJitter := time.Duration(c.cfg.AcquireJitterRatio * float64(c.cfg.AcquireInterval))
	select {
	case <-ctx.Done():
		return
	case <-c.clock.After(c.jitter.Jitter(maxJitter)):
	}

	for _, l := range candidates {
		if c.cfg.MaxScaleCount > 0 && c.running.Size() >= c.cfg.MaxScaleCount {
			c.logger.Debug("at max scale count, skipping acquisition", "max_scale_count", c.cfg.MaxScaleCount)
			return
		}
		if _, running := c.running.Load(l.PartitionID); running {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		h, err := c.leases.Acquire(ctx, l)
		if err != nil {
			if errors.Is(err, types.ErrLeaseLost) {
				c.logger.Debug("lost acquisition race", "partition_id", l.PartitionID)
			} else if ctx.Err() == nil {
				c.logger.Warn("acquiring lease failed", "partition_id", l.PartitionID, "error", err)
			}

			continue
		}

		c.logger.Info("lease acquired", "partition_id", l.PartitionID, "previous_owner", l.Owner, "token", l.ContinuationToken)
		c.start(ctx, h)
		c.hooks.LeaseAcquired(ctx, l.PartitionID)
	}
}

// shutdown stops every supervisor, waits for them and releases their leases.
//
// ctx is the cancelled lifecycle context; it is only handed to hooks.
func (c *Controller) shutdown(ctx context.Context) {
	var stopping []*supervisor
	c.running.Range(func(_ string, s *supervisor) bool {
		stopping = append(stopping, s)
		s.cancel()

		return true
	})
	c.wg.Wait()

	for _, s := range stopping {
		if s.reason() != types.ReleaseShutdown {
			continue
		}
		c.running.Delete(s.handle.PartitionID())
		c.release(s.handle)
		c.hooks.LeaseReleased(ctx, s.handle.PartitionID(), types.ReleaseShutdown)
	}
	c.metrics.RecordOwnedLeases(0)
}

// release clears ownership so another host can take the lease without
// waiting for it to expire. It runs after shutdown and must not use the
// cancelled lifecycle context.
func (c *Controller) release(h *leasemgr.Handle) {
	ctx, cancel := c.opContext(context.Background())
	defer cancel()

	pid := h.PartitionID()
	if err := c.leases.Release(ctx, h); err != nil {
		c.logger.Warn("releasing lease failed, it will expire", "partition_id", pid, "error", err)
		return
	}
	c.logger.Info("lease released", "partition_id", pid)
}

func (c *Controller) list(ctx context.Context) ([]types.Lease, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.store.List(ctx, c.cfg.Prefix)
}

func (c *Controller) listPartitions(ctx context.Context) ([]types.Partition, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.source.ListPartitions(ctx)
}

func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.cfg.OperationTimeout)
}
