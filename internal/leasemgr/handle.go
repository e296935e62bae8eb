package leasemgr

import (
	"sync"
	"time"

	"github.com/arloliu/changefeed/types"
)

// Handle is the locally owned copy of one lease.
//
// All writes for the lease go through the handle's mutex, so renewals and
// checkpoints of one partition never race each other on the version.
type Handle struct {
	mu        sync.Mutex
	lease     types.Lease
	lastWrite time.Time

	lost     chan struct{}
	lostOnce sync.Once
}

func newHandle(lease types.Lease, now time.Time) *Handle {
	return &Handle{lease: lease, lastWrite: now, lost: make(chan struct{})}
}

// PartitionID returns the partition the handle owns.
func (h *Handle) PartitionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lease.PartitionID
}

// Lease returns a copy of the lease as last written by this instance.
func (h *Handle) Lease() types.Lease {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.lease
	l.Parents = append([]string(nil), h.lease.Parents...)

	return l
}

// ContinuationToken returns the last checkpointed token.
func (h *Handle) ContinuationToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lease.ContinuationToken
}

// LastWrite returns when the lease was last written successfully.
func (h *Handle) LastWrite() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastWrite
}

// Lost is closed once the handle stops owning the lease, either because
// another writer won or because it was released or deleted.
func (h *Handle) Lost() <-chan struct{} {
	return h.lost
}

// IsLost reports whether Lost is closed.
func (h *Handle) IsLost() bool {
	select {
	case <-h.lost:
		return true
	default:
		return false
	}
}

// end closes the lost channel; it reports whether this call closed it.
func (h *Handle) end() bool {
	closed := false
	h.lostOnce.Do(func() {
		close(h.lost)
		closed = true
	})

	return closed
}
