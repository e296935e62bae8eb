package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

func TestNewNop(t *testing.T) {
	h := NewNop()
	ctx := t.Context()

	require.NoError(t, h.OnLeaseAcquired(ctx, "p-0"))
	require.NoError(t, h.OnLeaseReleased(ctx, "p-0", types.ReleaseShutdown))
	require.NoError(t, h.OnStateChanged(ctx, types.StateInit, types.StateRunning))
	require.NoError(t, h.OnError(ctx, "p-0", errors.New("boom")))
}

func TestFill(t *testing.T) {
	var called atomic.Bool
	h := Fill(&types.Hooks{
		OnLeaseAcquired: func(context.Context, string) error {
			called.Store(true)
			return nil
		},
	})

	require.NotNil(t, h.OnLeaseReleased)
	require.NotNil(t, h.OnStateChanged)
	require.NotNil(t, h.OnError)
	require.NoError(t, h.OnLeaseAcquired(t.Context(), "p-0"))
	require.True(t, called.Load())

	require.NotNil(t, Fill(nil).OnError)
}

func TestDispatcher(t *testing.T) {
	var acquired, released, failed atomic.Int32
	d := NewDispatcher(&types.Hooks{
		OnLeaseAcquired: func(context.Context, string) error {
			acquired.Add(1)
			return errors.New("ignored")
		},
		OnLeaseReleased: func(_ context.Context, _ string, reason types.ReleaseReason) error {
			if reason == types.ReleaseLost {
				released.Add(1)
			}
			return nil
		},
		OnError: func(context.Context, string, error) error {
			failed.Add(1)
			panic("hook bug")
		},
	}, logging.NewNop())

	ctx := t.Context()
	d.LeaseAcquired(ctx, "p-0")
	d.LeaseAcquired(ctx, "p-1")
	d.LeaseReleased(ctx, "p-0", types.ReleaseLost)
	d.Error(ctx, "p-1", errors.New("handler failed"))
	d.StateChanged(ctx, types.StateInit, types.StateStarting)
	d.Wait()

	require.Equal(t, int32(2), acquired.Load())
	require.Equal(t, int32(1), released.Load())
	require.Equal(t, int32(1), failed.Load())
}

func TestDispatcher_DispatchDuringWait(t *testing.T) {
	var calls atomic.Int32
	d := NewDispatcher(&types.Hooks{
		OnStateChanged: func(context.Context, types.State, types.State) error {
			calls.Add(1)
			return nil
		},
	}, logging.NewNop())

	const dispatchers, perDispatcher = 4, 200

	var wg sync.WaitGroup
	for range dispatchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perDispatcher {
				d.StateChanged(t.Context(), types.StateStopped, types.StateStarting)
			}
		}()
	}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				d.Wait()
			}
		}()
	}
	wg.Wait()
	d.Wait()

	require.Equal(t, int32(dispatchers*perDispatcher), calls.Load())
}
