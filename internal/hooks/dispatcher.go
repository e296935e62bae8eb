package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/changefeed/types"
)

// Dispatcher runs hook callbacks in background goroutines.
//
// Hook errors and panics are logged and never reach the caller. Wait blocks
// until every dispatched callback returned, so shutdown can drain them.
//
// Dispatch and Wait may race: a processor restarted while a previous Stop is
// still draining dispatches into the same Dispatcher. mu orders wg.Add
// against wg.Wait, so a dispatch issued during Wait starts after it returns.
type Dispatcher struct {
	hooks  types.Hooks
	logger types.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for hooks (nil callbacks become no-ops).
func NewDispatcher(h *types.Hooks, logger types.Logger) *Dispatcher {
	return &Dispatcher{hooks: Fill(h), logger: logger}
}

// LeaseAcquired dispatches OnLeaseAcquired.
func (d *Dispatcher) LeaseAcquired(ctx context.Context, partitionID string) {
	d.run("OnLeaseAcquired", func() error {
		return d.hooks.OnLeaseAcquired(ctx, partitionID)
	})
}

// LeaseReleased dispatches OnLeaseReleased.
func (d *Dispatcher) LeaseReleased(ctx context.Context, partitionID string, reason types.ReleaseReason) {
	d.run("OnLeaseReleased", func() error {
		return d.hooks.OnLeaseReleased(ctx, partitionID, reason)
	})
}

// StateChanged dispatches OnStateChanged.
func (d *Dispatcher) StateChanged(ctx context.Context, from, to types.State) {
	d.run("OnStateChanged", func() error {
		return d.hooks.OnStateChanged(ctx, from, to)
	})
}

// Error dispatches OnError.
func (d *Dispatcher) Error(ctx context.Context, partitionID string, err error) {
	d.run("OnError", func() error {
		return d.hooks.OnError(ctx, partitionID, err)
	})
}

// Wait blocks until all dispatched callbacks finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run(name string, fn func() error) {
	d.mu.Lock()
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("hook panicked", "hook", name, "panic", fmt.Sprint(r))
			}
		}()

		if err := fn(); err != nil {
			d.logger.Warn("hook returned error", "hook", name, "error", err)
		}
	}()
}
