// Package hooks provides default hook implementations and asynchronous hook dispatch.
package hooks

import (
	"context"

	"github.com/arloliu/changefeed/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnLeaseAcquired: h.OnLeaseAcquired,
		OnLeaseReleased: h.OnLeaseReleased,
		OnStateChanged:  h.OnStateChanged,
		OnError:         h.OnError,
	}
}

// OnLeaseAcquired is a no-op implementation.
func (h *NopHooks) OnLeaseAcquired(_ context.Context, _ string) error {
	return nil
}

// OnLeaseReleased is a no-op implementation.
func (h *NopHooks) OnLeaseReleased(_ context.Context, _ string, _ types.ReleaseReason) error {
	return nil
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ string, _ error) error {
	return nil
}

// Fill returns a copy of hooks where every nil callback is replaced with its no-op.
func Fill(h *types.Hooks) types.Hooks {
	nop := NewNop()
	if h == nil {
		return nop
	}

	out := *h
	if out.OnLeaseAcquired == nil {
		out.OnLeaseAcquired = nop.OnLeaseAcquired
	}
	if out.OnLeaseReleased == nil {
		out.OnLeaseReleased = nop.OnLeaseReleased
	}
	if out.OnStateChanged == nil {
		out.OnStateChanged = nop.OnStateChanged
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return out
}
