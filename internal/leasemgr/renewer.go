package leasemgr

import (
	"context"
	"errors"

	"github.com/arloliu/changefeed/types"
)

// KeepAlive renews h every RenewInterval until ctx ends or the lease is lost.
//
// Renewal errors other than a lost lease are logged and retried on the next
// tick. Once no renewal has succeeded for longer than ExpirationInterval,
// other hosts may already consider the lease expired, so KeepAlive declares
// it lost and stops.
//
// Parameters:
//   - ctx: Cancelled to stop renewing (e.g. on shutdown)
//   - h: Handle of an owned lease
//
// Returns:
//   - error: ctx.Err() on cancellation, or an error wrapping types.ErrLeaseLost
func (m *Manager) KeepAlive(ctx context.Context, h *Handle) error {
	timer := m.clock.NewTimer(m.cfg.RenewInterval)
	defer timer.Stop()

	pid := h.PartitionID()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Lost():
			return m.lostErr(h, false)
		case <-timer.Chan():
		}

		err := m.Renew(ctx, h)
		switch {
		case err == nil:
			m.metrics.RecordLeaseRenewal(pid, true)
		case errors.Is(err, types.ErrLeaseLost):
			m.metrics.RecordLeaseRenewal(pid, false)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			m.metrics.RecordLeaseRenewal(pid, false)
			m.logger.Warn("lease renewal failed", "partition_id", pid, "error", err)

			if m.clock.Now().Sub(h.LastWrite()) > m.cfg.ExpirationInterval {
				m.logger.Warn("lease not renewed within expiration interval",
					"partition_id", pid, "expiration", m.cfg.ExpirationInterval)

				return m.lostErr(h, true)
			}
		}

		timer.Reset(m.cfg.RenewInterval)
	}
}
