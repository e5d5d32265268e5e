package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/stretchr/testify/require"
)

// resource is a trivially exclusive resource for queue tests.
type resource struct {
	mu   sync.Mutex
	held bool
}

func (r *resource) try() core.ResultCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held {
		return core.Busy
	}
	r.held = true
	return core.Success
}

func (r *resource) free() {
	r.mu.Lock()
	r.held = false
	r.mu.Unlock()
}

func TestRequestQueue_Fairness(t *testing.T) {
	t.Parallel()

	const n = 5

	q := NewRequestQueue("test")
	r := &resource{held: true}
	granted := make(chan int, n)

	for i := 0; i < n; i++ {
		go func() {
			if q.Wait(context.Background(), 5*time.Second, r.try) == core.Success {
				granted <- i
			}
		}()
		require.Eventually(t, func() bool { return q.Len() == i+1 }, time.Second, time.Millisecond)
	}

	for i := 0; i < n; i++ {
		r.free()
		q.Release()
		require.Equal(t, i, <-granted)
	}
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}

func TestRequestQueue_Timeout(t *testing.T) {
	t.Parallel()

	q := NewRequestQueue("test")
	r := &resource{held: true}

	start := time.Now()
	require.Equal(t, core.Busy, q.Wait(context.Background(), 30*time.Millisecond, r.try))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Zero(t, q.Len())
}

func TestRequestQueue_LeavingHeadWakesNext(t *testing.T) {
	t.Parallel()

	q := NewRequestQueue("test")
	r := &resource{held: true}

	first := make(chan core.ResultCode, 1)
	go func() {
		first <- q.Wait(context.Background(), 50*time.Millisecond, r.try)
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	second := make(chan core.ResultCode, 1)
	go func() {
		second <- q.Wait(context.Background(), 5*time.Second, r.try)
	}()
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	// the head times out while the resource is still busy
	require.Equal(t, core.Busy, <-first)

	r.free()
	q.Release()
	require.Equal(t, core.Success, <-second)
}

func TestRequestQueue_KeyedOrdering(t *testing.T) {
	t.Parallel()

	q := NewKeyedRequestQueue("test", func(a, b string) bool { return a == b })
	ra, rb := &resource{held: true}, &resource{held: true}

	firstA := make(chan core.ResultCode, 1)
	go func() {
		firstA <- q.WaitKey(context.Background(), "a", 5*time.Second, ra.try)
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	secondA := make(chan core.ResultCode, 1)
	go func() {
		secondA <- q.WaitKey(context.Background(), "a", 5*time.Second, ra.try)
	}()
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	onB := make(chan core.ResultCode, 1)
	go func() {
		onB <- q.WaitKey(context.Background(), "b", 5*time.Second, rb.try)
	}()
	require.Eventually(t, func() bool { return q.Len() == 3 }, time.Second, time.Millisecond)

	// b is not lined up behind the waiters on a
	rb.free()
	q.Release()
	require.Equal(t, core.Success, <-onB)
	require.Empty(t, firstA)

	// waiters on the same key keep arrival order
	ra.free()
	q.Release()
	require.Equal(t, core.Success, <-firstA)
	require.Empty(t, secondA)

	ra.free()
	q.Release()
	require.Equal(t, core.Success, <-secondA)
}

func TestRequestQueue_ImmediateGrant(t *testing.T) {
	t.Parallel()

	q := NewRequestQueue("test")
	r := &resource{}

	require.Equal(t, core.Success, q.Wait(context.Background(), time.Second, r.try))
}

func TestReadSessions(t *testing.T) {
	t.Parallel()

	rs := NewReadSessions()

	expired := make(chan core.SessionID, 2)
	rs.Arm(1, 10*time.Millisecond, func() { expired <- 1 })
	rs.Arm(2, time.Hour, func() { expired <- 2 })

	require.Equal(t, core.SessionID(1), <-expired)
	require.False(t, rs.Disarm(1))
	require.True(t, rs.Disarm(2))

	// re-arming replaces the previous hold
	rs.Arm(3, time.Hour, func() { expired <- 3 })
	rs.Arm(3, 10*time.Millisecond, func() { expired <- 30 })
	require.Equal(t, core.SessionID(30), <-expired)
}
