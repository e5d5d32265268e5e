package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/escalopa/txcoord/internal/core"
)

// RequestQueue is a FIFO monitor in front of a set of exclusive resources
// named by key. A waiter retries its acquisition each time a resource is
// released, unless an earlier waiter wants an overlapping key, so grants on
// overlapping keys follow arrival order while disjoint keys do not block
// each other.
type RequestQueue struct {
	name string

	// overlaps reports whether two keys compete for the same resource;
	// nil means every key does.
	overlaps func(a, b string) bool

	mu      sync.Mutex
	waiters []*waiter
}

type waiter struct {
	key   string
	ready chan struct{}
}

func (w *waiter) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// NewRequestQueue builds a queue in front of a single resource.
func NewRequestQueue(name string) *RequestQueue {
	return &RequestQueue{name: name}
}

// NewKeyedRequestQueue builds a queue whose waiters only line up behind
// earlier waiters with an overlapping key.
func NewKeyedRequestQueue(name string, overlaps func(a, b string) bool) *RequestQueue {
	return &RequestQueue{name: name, overlaps: overlaps}
}

// Wait queues the caller for the single resource of the queue.
func (q *RequestQueue) Wait(ctx context.Context, timeout time.Duration, try func() core.ResultCode) core.ResultCode {
	return q.WaitKey(ctx, "", timeout, try)
}

// WaitKey queues the caller for key and runs try whenever no earlier waiter
// wants an overlapping key and a resource may have been freed. It returns
// the first result of try that is not Busy, or Busy once timeout or ctx
// expire.
func (q *RequestQueue) WaitKey(ctx context.Context, key string, timeout time.Duration, try func() core.ResultCode) core.ResultCode {
	w := &waiter{key: key, ready: make(chan struct{}, 1)}

	q.mu.Lock()
	q.waiters = append(q.waiters, w)
	if q.eligibleLocked(len(q.waiters) - 1) {
		w.signal()
	}
	q.mu.Unlock()

	defer q.leave(w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-w.ready:
			if code := try(); code != core.Busy {
				return code
			}
		case <-timer.C:
			return core.Busy
		case <-ctx.Done():
			return core.Busy
		}
	}
}

// Release wakes every waiter that is not lined up behind an earlier one.
func (q *RequestQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.signalLocked()
}

// leave removes w and wakes the waiters that were lined up behind it.
func (q *RequestQueue) leave(w *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, v := range q.waiters {
		if v != w {
			continue
		}
		q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
		q.signalLocked()
		return
	}
}

func (q *RequestQueue) signalLocked() {
	for i, w := range q.waiters {
		if q.eligibleLocked(i) {
			w.signal()
		}
	}
}

func (q *RequestQueue) eligibleLocked(i int) bool {
	if q.overlaps == nil {
		return i == 0
	}
	for _, earlier := range q.waiters[:i] {
		if q.overlaps(earlier.key, q.waiters[i].key) {
			return false
		}
	}
	return true
}

func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
