package pipeline

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
)

// readAcquire takes the shared side of the write gate. The session is
// force-released once its hold time expires.
type readAcquire struct {
	base
	held bool
}

func newReadAcquire(env *Env, req *core.Request) Operation {
	return &readAcquire{base: newBase(env, req)}
}

func (o *readAcquire) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	if o.req.Timeout < 0 {
		return core.InvalidParams
	}
	return o.activeOnly()
}

func (o *readAcquire) GetExclusion(ctx context.Context) core.ResultCode {
	code := o.env.Locks.AcquireRead(ctx, o.req.Session)
	o.held = code == core.Success
	return code
}

func (o *readAcquire) Execute(ctx context.Context) core.ResultCode {
	hold := o.req.Timeout
	if hold == 0 {
		hold = o.env.readHold
	}
	if hold == 0 {
		return core.Success
	}

	session := o.req.Session
	o.env.Reads.Arm(session, hold, func() {
		if o.env.Locks.ReleaseRead(session) == core.Success {
			logger.WarnKV(context.Background(), "read session expired", "session_id", session, "hold", hold)
		}
	})
	return core.Success
}

func (o *readAcquire) Revoke(context.Context, Stage, core.ResultCode) {
	if o.held {
		o.env.Locks.ReleaseRead(o.req.Session)
		o.held = false
	}
}

type readRelease struct {
	base
}

func newReadRelease(env *Env, req *core.Request) Operation {
	return &readRelease{base: newBase(env, req)}
}

func (o *readRelease) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	return core.Success
}

func (o *readRelease) Execute(context.Context) core.ResultCode {
	o.env.Reads.Disarm(o.req.Session)
	return o.env.Locks.ReleaseRead(o.req.Session)
}
