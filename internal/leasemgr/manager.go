package leasemgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Acquisition results reported to metrics.
const (
	AcquireSuccess  = "success"
	AcquireConflict = "conflict"
	AcquireError    = "error"
)

// Config holds the lease timing and identity settings.
type Config struct {
	HostName           string
	Prefix             string
	RenewInterval      time.Duration
	ExpirationInterval time.Duration

	// OperationTimeout bounds each store call (0 = only the caller's context).
	OperationTimeout time.Duration
}

// Manager implements acquire, renew, checkpoint and release on top of a types.LeaseStore.
//
// Manager is safe for concurrent use. Writes to one lease are serialized by its Handle.
type Manager struct {
	store   types.LeaseStore
	cfg     Config
	clock   clock.Clock
	logger  types.Logger
	metrics types.LeaseMetrics
}

// New creates a lease manager.
//
// Parameters:
//   - store: Lease persistence
//   - cfg: Identity and timing
//   - clk: Time source (nil = wall clock)
//   - logger: Logger (nil = no-op)
//   - m: Lease metrics (nil = no-op)
//
// Returns:
//   - *Manager: Ready-to-use manager
func New(store types.LeaseStore, cfg Config, clk clock.Clock, logger types.Logger, m types.LeaseMetrics) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Manager{store: store, cfg: cfg, clock: clk, logger: logger, metrics: m}
}

// HostName returns the identity written into owned leases.
func (m *Manager) HostName() string {
	return m.cfg.HostName
}

// Clock returns the manager's time source.
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// IsExpired reports whether lease can be taken by anyone at now.
//
// An empty owner counts as expired, so forcibly reset leases are picked up
// immediately.
func (m *Manager) IsExpired(lease types.Lease, now time.Time) bool {
	return lease.Owner == "" || now.Sub(lease.RenewedAt) > m.cfg.ExpirationInterval
}

// Acquire claims lease for this host with a write conditional on lease.Version.
//
// The same call takes expired leases and steals live ones. A lost race is not
// retried: the caller must list again.
//
// Returns:
//   - *Handle: Handle of the now-owned lease
//   - error: wraps types.ErrLeaseLost when another writer won
func (m *Manager) Acquire(ctx context.Context, lease types.Lease) (*Handle, error) {
	now := m.clock.Now().UTC()
	next := lease
	next.Owner = m.cfg.HostName
	next.RenewedAt = now

	v, err := m.update(ctx, next, lease.Version)
	if err != nil {
		if isConflict(err) {
			m.metrics.RecordLeaseAcquire(AcquireConflict)
			return nil, fmt.Errorf("acquire %s: %w", lease.PartitionID, types.ErrLeaseLost)
		}
		m.metrics.RecordLeaseAcquire(AcquireError)

		return nil, fmt.Errorf("acquire %s: %w", lease.PartitionID, err)
	}
	next.Version = v
	m.metrics.RecordLeaseAcquire(AcquireSuccess)

	return newHandle(next, now), nil
}

// Renew refreshes the renewal timestamp of an owned lease.
//
// Returns:
//   - error: wraps types.ErrLeaseLost when ownership is gone; other errors are transient
func (m *Manager) Renew(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return m.write(ctx, h, func(*types.Lease) {})
}

// Checkpoint persists token as the lease's continuation token.
//
// Writing the token already stored is a successful no-op.
//
// Returns:
//   - error: wraps types.ErrLeaseLost when ownership is gone; other errors are transient
func (m *Manager) Checkpoint(ctx context.Context, h *Handle, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.IsLost() {
		return m.lostErr(h, false)
	}
	if token == h.lease.ContinuationToken {
		return nil
	}

	return m.write(ctx, h, func(l *types.Lease) { l.ContinuationToken = token })
}

// Release clears the owner of a lease on graceful shutdown.
//
// Failure is not fatal: the lease expires on its own. A lease that another
// writer already changed is left alone.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.end() {
		return nil
	}

	next := h.lease
	next.Owner = ""
	if _, err := m.update(ctx, next, h.lease.Version); err != nil {
		if isConflict(err) {
			return nil
		}

		return fmt.Errorf("release %s: %w", h.lease.PartitionID, err)
	}

	return nil
}

// Delete removes the lease row of a retired partition.
//
// Returns:
//   - error: wraps types.ErrLeaseLost when another writer changed the row first
func (m *Manager) Delete(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.IsLost() {
		return m.lostErr(h, false)
	}

	err := m.remove(ctx, h.lease.PartitionID, h.lease.Version)
	if isConflict(err) && !errors.Is(err, types.ErrLeaseNotFound) {
		fresh, getErr := m.get(ctx, h.lease.PartitionID)
		if getErr != nil || !fresh.IsOwnedBy(m.cfg.HostName) {
			return m.lostErr(h, true)
		}
		err = m.remove(ctx, fresh.PartitionID, fresh.Version)
	}

	switch {
	case err == nil, errors.Is(err, types.ErrLeaseNotFound):
		h.end()
		return nil
	case isConflict(err):
		return m.lostErr(h, true)
	default:
		return fmt.Errorf("delete %s: %w", h.lease.PartitionID, err)
	}
}

// write applies mutate and stamps RenewedAt with one conditional update.
//
// On a conflict the row is read again. If this host still owns it, some other
// local write raced and the mutation is applied once more on the fresh
// version; otherwise the lease is lost. Must be called with h.mu held.
func (m *Manager) write(ctx context.Context, h *Handle, mutate func(*types.Lease)) error {
	if h.IsLost() {
		return m.lostErr(h, false)
	}

	now := m.clock.Now().UTC()
	next := h.lease
	mutate(&next)
	next.RenewedAt = now

	v, err := m.update(ctx, next, h.lease.Version)
	if err == nil {
		next.Version = v
		h.lease = next
		h.lastWrite = now

		return nil
	}
	if !isConflict(err) {
		return err
	}
	if errors.Is(err, types.ErrLeaseNotFound) {
		return m.lostErr(h, true)
	}

	fresh, err := m.get(ctx, h.lease.PartitionID)
	if err != nil {
		if errors.Is(err, types.ErrLeaseNotFound) {
			return m.lostErr(h, true)
		}

		return err
	}
	if !fresh.IsOwnedBy(m.cfg.HostName) {
		return m.lostErr(h, true)
	}

	m.logger.Debug("lease changed under owner, reapplying write",
		"partition_id", fresh.PartitionID, "version", fresh.Version)

	next = fresh
	mutate(&next)
	next.RenewedAt = now

	v, err = m.update(ctx, next, fresh.Version)
	if err != nil {
		if isConflict(err) {
			return m.lostErr(h, true)
		}

		return err
	}
	next.Version = v
	h.lease = next
	h.lastWrite = now

	return nil
}

func (m *Manager) lostErr(h *Handle, record bool) error {
	if h.end() && record {
		m.metrics.RecordLeaseLost(h.lease.PartitionID)
		m.logger.Info("lease lost", "partition_id", h.lease.PartitionID, "host", m.cfg.HostName)
	}

	return fmt.Errorf("%s: %w", h.lease.PartitionID, types.ErrLeaseLost)
}

func (m *Manager) update(ctx context.Context, lease types.Lease, expected uint64) (uint64, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("update", m.clock.Now())

	return m.store.Update(ctx, lease, expected)
}

func (m *Manager) get(ctx context.Context, partitionID string) (types.Lease, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("get", m.clock.Now())

	return m.store.Get(ctx, m.cfg.Prefix, partitionID)
}

func (m *Manager) remove(ctx context.Context, partitionID string, expected uint64) error {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	defer m.observe("delete", m.clock.Now())

	return m.store.Delete(ctx, m.cfg.Prefix, partitionID, expected)
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, m.cfg.OperationTimeout)
}

func (m *Manager) observe(op string, start time.Time) {
	m.metrics.RecordLeaseStoreOperation(op, m.clock.Now().Sub(start).Seconds())
}

// isConflict reports whether err means the row is no longer the one we read.
func isConflict(err error) bool {
	return errors.Is(err, types.ErrVersionConflict) || errors.Is(err, types.ErrLeaseNotFound)
}
