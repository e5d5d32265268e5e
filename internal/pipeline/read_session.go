package pipeline

import (
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/puzpuzpuz/xsync/v3"
)

type readHold struct {
	timer *time.Timer
}

// ReadSessions force-releases read sessions whose hold time expired.
type ReadSessions struct {
	holds *xsync.MapOf[core.SessionID, *readHold]
}

func NewReadSessions() *ReadSessions {
	return &ReadSessions{holds: xsync.NewMapOf[core.SessionID, *readHold]()}
}

// Arm calls expire after hold unless Disarm is called first.
func (r *ReadSessions) Arm(session core.SessionID, hold time.Duration, expire func()) {
	h := &readHold{}
	r.holds.Compute(session, func(old *readHold, loaded bool) (*readHold, bool) {
		if loaded {
			old.timer.Stop()
		}
		h.timer = time.AfterFunc(hold, func() {
			if r.take(session, h) {
				expire()
			}
		})
		return h, false
	})
}

// Disarm stops the expiry of session and reports whether one was armed.
func (r *ReadSessions) Disarm(session core.SessionID) bool {
	h, ok := r.holds.LoadAndDelete(session)
	if ok {
		h.timer.Stop()
	}
	return ok
}

// take removes h if it is still the hold armed for session.
func (r *ReadSessions) take(session core.SessionID, h *readHold) bool {
	taken := false
	r.holds.Compute(session, func(old *readHold, loaded bool) (*readHold, bool) {
		taken = loaded && old == h
		return old, taken || !loaded
	})
	return taken
}
