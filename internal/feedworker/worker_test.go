package feedworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/feed"
	"github.com/arloliu/changefeed/internal/leasemgr"
	"github.com/arloliu/changefeed/leasestore"
	cftest "github.com/arloliu/changefeed/testing"
	"github.com/arloliu/changefeed/types"
)

const prefix = "orders"

type harness struct {
	store *leasestore.Memory
	src   *feed.Pebble
	mgr   *leasemgr.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	src, err := feed.OpenPebble(feed.PebbleOptions{Dir: "feed", FS: vfs.NewMem(), NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	require.NoError(t, src.CreatePartition(t.Context(), "p-0"))

	store := leasestore.NewMemory()
	mgr := leasemgr.New(store, leasemgr.Config{
		HostName:           "host-a",
		Prefix:             prefix,
		RenewInterval:      100 * time.Millisecond,
		ExpirationInterval: time.Second,
	}, nil, nil, nil)

	return &harness{store: store, src: src, mgr: mgr}
}

func (h *harness) acquire(t *testing.T, pid, token string) *leasemgr.Handle {
	t.Helper()

	lease, err := h.store.Create(t.Context(), types.Lease{Prefix: prefix, PartitionID: pid, ContinuationToken: token})
	require.NoError(t, err)
	handle, err := h.mgr.Acquire(t.Context(), lease)
	require.NoError(t, err)

	return handle
}

func (h *harness) appendN(t *testing.T, pid string, from, n int) {
	t.Helper()

	changes := make([]types.Change, n)
	for i := range changes {
		changes[i] = types.Change{ID: fmt.Sprintf("item-%d", from+i), Operation: types.OperationCreate}
	}
	_, err := h.src.Append(t.Context(), pid, changes...)
	require.NoError(t, err)
}

// storedToken returns the persisted token, or "<missing>" when the lease row is gone.
func (h *harness) storedToken(t *testing.T, pid string) string {
	lease, err := h.store.Get(t.Context(), prefix, pid)
	if err != nil {
		return "<missing>"
	}

	return lease.ContinuationToken
}

// recorder collects delivered change IDs.
type recorder struct {
	mu      sync.Mutex
	ids     []string
	batches int
}

func (r *recorder) Handle(_ context.Context, batch types.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches++
	for _, c := range batch.Changes {
		r.ids = append(r.ids, c.ID)
	}

	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ids...)
}

func testConfig() Config {
	return Config{PollDelay: 10 * time.Millisecond, MaxItems: 4, StartFrom: types.StartPosition{Kind: types.StartFromBeginning}}
}

func run(ctx context.Context, w *Worker, h *leasemgr.Handle) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, h) }()

	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
		return nil
	}
}

func TestWorker_DeliversAndCheckpoints(t *testing.T) {
	h := newHarness(t)
	h.appendN(t, "p-0", 0, 10)
	handle := h.acquire(t, "p-0", "")

	rec := &recorder{}
	w := New(testConfig(), h.src, rec, h.mgr, cftest.NewTestLogger(t), nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := run(ctx, w, handle)

	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "10" }, 5*time.Second, 10*time.Millisecond)

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("item-%d", i)
	}
	require.Equal(t, want, rec.seen())

	h.appendN(t, "p-0", 10, 2)
	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "12" }, 5*time.Second, 10*time.Millisecond)
	require.Len(t, rec.seen(), 12)

	cancel()
	require.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestWorker_HandlerFailureRetriesSameBatch(t *testing.T) {
	h := newHarness(t)
	h.appendN(t, "p-0", 0, 3)
	handle := h.acquire(t, "p-0", "")

	var (
		calls  atomic.Int32
		tokens = make(chan string, 16)
	)
	handler := types.HandlerFunc(func(_ context.Context, batch types.Batch) error {
		n := calls.Add(1)
		tokens <- h.storedToken(t, "p-0")
		switch {
		case n == 1:
			return errors.New("downstream unavailable")
		case n == 2:
			panic("handler bug")
		case len(batch.Changes) != 3:
			return fmt.Errorf("unexpected batch size %d", len(batch.Changes))
		default:
			return nil
		}
	})

	w := New(testConfig(), h.src, handler, h.mgr, cftest.NewTestLogger(t), nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := run(ctx, w, handle)

	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "3" }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, waitDone(t, done), context.Canceled)

	require.GreaterOrEqual(t, calls.Load(), int32(3))
	// Nothing was checkpointed while the handler kept failing.
	require.Empty(t, <-tokens)
	require.Empty(t, <-tokens)
	require.Empty(t, <-tokens)
}

func TestWorker_StartFromNow(t *testing.T) {
	h := newHarness(t)
	h.appendN(t, "p-0", 0, 5)
	handle := h.acquire(t, "p-0", "")

	rec := &recorder{}
	cfg := testConfig()
	cfg.StartFrom = types.StartPosition{Kind: types.StartFromNow}
	w := New(cfg, h.src, rec, h.mgr, cftest.NewTestLogger(t), nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := run(ctx, w, handle)

	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "5" }, 5*time.Second, 10*time.Millisecond)

	h.appendN(t, "p-0", 5, 2)
	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "7" }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"item-5", "item-6"}, rec.seen())

	cancel()
	require.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestWorker_ResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.appendN(t, "p-0", 0, 6)
	handle := h.acquire(t, "p-0", "4")

	rec := &recorder{}
	w := New(testConfig(), h.src, rec, h.mgr, cftest.NewTestLogger(t), nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := run(ctx, w, handle)

	require.Eventually(t, func() bool { return h.storedToken(t, "p-0") == "6" }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"item-4", "item-5"}, rec.seen())

	cancel()
	require.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestWorker_PartitionGone(t *testing.T) {
	h := newHarness(t)
	h.appendN(t, "p-0", 0, 3)
	handle := h.acquire(t, "p-0", "")
	require.NoError(t, h.src.Split(t.Context(), "p-0", "p-0a", "p-0b"))

	rec := &recorder{}
	w := New(testConfig(), h.src, rec, h.mgr, cftest.NewTestLogger(t), nil, nil)

	err := waitDone(t, run(t.Context(), w, handle))
	require.ErrorIs(t, err, types.ErrPartitionGone)
	require.Len(t, rec.seen(), 3, "a retired partition drains before it is reported gone")
	require.Equal(t, "3", h.storedToken(t, "p-0"))
}

func TestWorker_LeaseLost(t *testing.T) {
	h := newHarness(t)
	handle := h.acquire(t, "p-0", "")

	rec := &recorder{}
	w := New(testConfig(), h.src, rec, h.mgr, cftest.NewTestLogger(t), nil, nil)
	done := run(t.Context(), w, handle)

	_, err := leasemgr.ResetOwners(t.Context(), h.store, prefix)
	require.NoError(t, err)
	h.appendN(t, "p-0", 0, 1)

	require.ErrorIs(t, waitDone(t, done), types.ErrLeaseLost)
	require.Empty(t, h.storedToken(t, "p-0"), "a worker that lost its lease must not checkpoint")
}

func TestWorker_TokensNeverRegress(t *testing.T) {
	h := newHarness(t)
	handle := h.acquire(t, "p-0", "")

	w := New(testConfig(), h.src, &recorder{}, h.mgr, nil, nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := run(ctx, w, handle)

	var observed []uint64
	for i := range 5 {
		h.appendN(t, "p-0", i*3, 3)
		want := feed.FormatToken(uint64(i*3 + 3)) //nolint:gosec // small test values
		require.Eventually(t, func() bool {
			tok := h.storedToken(t, "p-0")
			if seq, err := feed.ParseToken(tok); err == nil {
				observed = append(observed, seq)
			}

			return tok == want
		}, 5*time.Second, 5*time.Millisecond)
	}

	cancel()
	require.ErrorIs(t, waitDone(t, done), context.Canceled)
	cftest.AssertNonDecreasing(t, "p-0", observed)
}
