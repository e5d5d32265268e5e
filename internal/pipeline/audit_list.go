package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/puzpuzpuz/xsync/v3"
)

// auditRun is one in-flight driver audit of a controller. Requests for the
// same controller join it and share its result.
type auditRun struct {
	done chan struct{}
	code core.ResultCode
}

func (r *auditRun) wait(ctx context.Context) core.ResultCode {
	select {
	case <-r.done:
		return r.code
	case <-ctx.Done():
		return core.Busy
	}
}

// AuditLists holds the two driver audit wait lists: the primary list keyed by
// controller and the bounded secondary list for audits waiting on the write
// resource.
type AuditLists struct {
	primary *xsync.MapOf[core.ControllerID, *auditRun]

	secondary *RequestQueue
	timeout   time.Duration
	capacity  int

	mu      sync.Mutex
	waiting int
}

func NewAuditLists(capacity int, timeout time.Duration) *AuditLists {
	return &AuditLists{
		primary:   xsync.NewMapOf[core.ControllerID, *auditRun](),
		secondary: NewRequestQueue("audit"),
		timeout:   timeout,
		capacity:  capacity,
	}
}

// join returns the run auditing controller and whether the caller owns it.
func (l *AuditLists) join(controller core.ControllerID) (*auditRun, bool) {
	run, loaded := l.primary.LoadOrCompute(controller, func() *auditRun {
		return &auditRun{done: make(chan struct{})}
	})
	return run, !loaded
}

// complete publishes code to everyone who joined run.
func (l *AuditLists) complete(controller core.ControllerID, run *auditRun, code core.ResultCode) {
	l.primary.Compute(controller, func(old *auditRun, loaded bool) (*auditRun, bool) {
		return old, !loaded || old == run
	})
	run.code = code
	close(run.done)
}

// waitWrite parks a driver audit on the secondary list. It is refused
// outright when the list is full.
func (l *AuditLists) waitWrite(ctx context.Context, try func() core.ResultCode) core.ResultCode {
	l.mu.Lock()
	if l.waiting >= l.capacity {
		l.mu.Unlock()
		return core.Busy
	}
	l.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	return l.secondary.Wait(ctx, l.timeout, try)
}

func (l *AuditLists) release() {
	l.secondary.Release()
}

// Running returns the number of controllers with an audit in flight.
func (l *AuditLists) Running() int {
	return l.primary.Size()
}
