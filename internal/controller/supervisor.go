package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/changefeed/internal/leasemgr"
	"github.com/arloliu/changefeed/types"
)

// supervisor tracks the renewer and worker goroutines of one owned lease.
type supervisor struct {
	handle  *leasemgr.Handle
	cancel  context.CancelFunc
	evicted atomic.Bool

	// exit is written once before the supervisor's WaitGroup slot is released.
	exit types.ReleaseReason
}

// evict stops a supervisor whose lease another host took.
func (s *supervisor) evict() {
	s.evicted.Store(true)
	s.cancel()
}

// reason is only valid after the supervisor goroutine finished.
func (s *supervisor) reason() types.ReleaseReason {
	return s.exit
}

// start registers a supervisor for h and runs it in the background.
func (c *Controller) start(ctx context.Context, h *leasemgr.Handle) {
	sctx, cancel := context.WithCancel(ctx)
	s := &supervisor{handle: h, cancel: cancel}

	c.running.Store(h.PartitionID(), s)
	c.wg.Add(1)
	go c.supervise(ctx, sctx, s)
}

// supervise runs lease renewal and the feed worker until either stops, then
// settles the lease according to why they stopped.
func (c *Controller) supervise(ctx, sctx context.Context, s *supervisor) {
	defer c.wg.Done()
	defer s.cancel()

	pid := s.handle.PartitionID()
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return c.leases.KeepAlive(gctx, s.handle) })
	g.Go(func() error { return c.worker.Run(gctx, s.handle) })
	err := g.Wait()

	switch {
	case errors.Is(err, types.ErrLeaseLost), s.evicted.Load():
		c.logger.Info("stopped processing lost lease", "partition_id", pid)
		s.exit = types.ReleaseLost
	case ctx.Err() != nil:
		// Left registered: shutdown releases the lease after all supervisors stopped.
		s.exit = types.ReleaseShutdown
		return
	case errors.Is(err, types.ErrPartitionGone):
		s.exit = c.retire(ctx, s.handle)
	default:
		c.logger.Error("partition processing stopped unexpectedly", "partition_id", pid, "error", err)
		c.release(s.handle)
		s.exit = types.ReleaseLost
	}

	if cur, ok := c.running.Load(pid); ok && cur == s {
		c.running.Delete(pid)
	}
	c.hooks.LeaseReleased(ctx, pid, s.exit)
}

// retire replaces a drained split or merge parent by its children.
//
// A child lease is created only when none of the child's other parents still
// has a lease; the last parent to retire creates it. The parent lease is then
// deleted so no host picks the partition up again.
//
// Returns:
//   - types.ReleaseReason: retired on success, lost when the lease could not be removed
func (c *Controller) retire(ctx context.Context, h *leasemgr.Handle) types.ReleaseReason {
	pid := h.PartitionID()

	if err := c.createChildren(ctx, pid); err != nil {
		c.logger.Warn("creating child leases failed, releasing parent", "partition_id", pid, "error", err)
		c.release(h)

		return types.ReleaseLost
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.leases.Delete(ctx, h); err != nil {
		c.logger.Warn("deleting retired lease failed", "partition_id", pid, "error", err)
		if !errors.Is(err, types.ErrLeaseLost) {
			c.release(h)
		}

		return types.ReleaseLost
	}
	c.logger.Info("partition retired", "partition_id", pid)

	return types.ReleaseRetired
}

func (c *Controller) createChildren(ctx context.Context, pid string) error {
	parts, err := c.listPartitions(ctx)
	if err != nil {
		return err
	}

	for _, p := range parts {
		if !slices.Contains(p.Parents, pid) {
			continue
		}

		pending, err := c.otherParentsLeased(ctx, p, pid)
		if err != nil {
			return err
		}
		if pending {
			c.logger.Debug("child waits for other parents", "partition_id", p.ID, "parent", pid)
			continue
		}

		opCtx, cancel := c.opContext(ctx)
		_, err = c.store.Create(opCtx, types.Lease{Prefix: c.cfg.Prefix, PartitionID: p.ID, Parents: p.Parents})
		cancel()
		if err != nil && !errors.Is(err, types.ErrLeaseExists) {
			return fmt.Errorf("create child %s: %w", p.ID, err)
		}
		c.logger.Info("child lease created", "partition_id", p.ID, "parents", p.Parents)
	}

	return nil
}

func (c *Controller) otherParentsLeased(ctx context.Context, child types.Partition, self string) (bool, error) {
	for _, parent := range child.Parents {
		if parent == self {
			continue
		}

		opCtx, cancel := c.opContext(ctx)
		_, err := c.store.Get(opCtx, c.cfg.Prefix, parent)
		cancel()
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, types.ErrLeaseNotFound):
		default:
			return false, err
		}
	}

	return false, nil
}
