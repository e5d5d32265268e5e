package lock

import (
	"context"
	"sync"
	"time"

	"github.com/escalopa/txcoord/internal/core"
)

// rwGate is the process-wide shared/exclusive gate guarding write operations.
// Waiters block on wake, which is closed and replaced on every state change.
// Once a writer waits, no new readers are admitted.
type rwGate struct {
	mu sync.Mutex

	readers map[core.SessionID]struct{}

	held        bool
	writer      core.SessionID // may be 0 for driver triggered audits
	writerOp    core.WriteOp
	lastWriteOp core.WriteOp

	waitingReaders int
	waitingWriters int

	transition bool

	wake chan struct{}
}

func newRWGate() *rwGate {
	return &rwGate{
		readers: make(map[core.SessionID]struct{}),
		wake:    make(chan struct{}),
	}
}

func (g *rwGate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}

// waitLocked releases mu until the next broadcast, ctx end or deadline.
// A zero deadline waits without a time bound.
func (g *rwGate) waitLocked(ctx context.Context, deadline time.Time) bool {
	wake := g.wake
	g.mu.Unlock()
	defer g.mu.Lock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return false
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-wake:
		return true
	case <-ctx.Done():
		return false
	case <-timeout:
		return false
	}
}

func (g *rwGate) acquireRead(ctx context.Context, session core.SessionID, timeout time.Duration) core.ResultCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.readers[session]; ok {
		return core.AlreadyAcquired
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	g.waitingReaders++
	defer func() { g.waitingReaders-- }()

	for g.held || g.waitingWriters > 0 {
		if !g.waitLocked(ctx, deadline) {
			return core.Busy
		}
	}

	g.readers[session] = struct{}{}
	return core.Success
}

func (g *rwGate) releaseRead(session core.SessionID) core.ResultCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.readers[session]; !ok {
		return core.NotAcquired
	}

	delete(g.readers, session)
	g.broadcastLocked()
	return core.Success
}

func (g *rwGate) acquireWrite(ctx context.Context, session core.SessionID, op core.WriteOp) core.ResultCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.waitingWriters++
	code := core.Success
	for {
		if g.transition {
			code = core.InvalidClusterState
			break
		}
		if g.held {
			code = core.Busy
			break
		}
		if len(g.readers) == 0 {
			break
		}
		if !g.waitLocked(ctx, time.Time{}) {
			code = core.Busy
			break
		}
	}
	g.waitingWriters--

	if code != core.Success {
		// readers held back by this writer may proceed
		g.broadcastLocked()
		return code
	}

	g.held = true
	g.writer = session
	g.writerOp = op
	return core.Success
}

func (g *rwGate) releaseWrite(session core.SessionID, op core.WriteOp) core.ResultCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return core.NotAcquired
	}
	if g.writer != session {
		return core.InvalidSession
	}
	if g.writerOp != op {
		return core.InvalidOperation
	}

	g.lastWriteOp = op
	g.held = false
	g.writer = 0
	g.writerOp = core.WriteNone
	g.broadcastLocked()
	return core.Success
}

// beginTransition waits until no writer holds or waits for the gate.
func (g *rwGate) beginTransition(ctx context.Context) core.ResultCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.transition {
		return core.Busy
	}

	for g.held || g.waitingWriters > 0 {
		if !g.waitLocked(ctx, time.Time{}) {
			return core.Busy
		}
	}

	g.transition = true
	return core.Success
}

func (g *rwGate) endTransition() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.transition = false
	g.broadcastLocked()
}

func (g *rwGate) inTransition() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transition
}

func (g *rwGate) isReader(session core.SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.readers[session]
	return ok
}

func (g *rwGate) readerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.readers)
}

func (g *rwGate) writeHolder() (session core.SessionID, op core.WriteOp, held bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writer, g.writerOp, g.held
}

func (g *rwGate) lastWrite() core.WriteOp {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastWriteOp
}
