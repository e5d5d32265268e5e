package pipeline

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
)

// configAcquire covers the plain, partial and timed config acquisitions.
// A timed acquisition that finds the slot busy waits on the config queue.
type configAcquire struct {
	base

	mode     core.ConfigMode
	unit     string
	configID core.ConfigID
	held     bool
	msg      *rpc.Message
}

func newConfigAcquire(env *Env, req *core.Request) Operation {
	return &configAcquire{base: newBase(env, req)}
}

func (o *configAcquire) Validate(context.Context) core.ResultCode {
	switch o.req.Service {
	case core.ServiceAcquireConfig:
		o.mode = core.ConfigGlobal
	case core.ServiceAcquireConfigTimed:
		if o.req.Timeout <= 0 {
			return core.InvalidParams
		}
		o.mode, o.unit = o.req.Mode, o.req.UnitName
	case core.ServiceAcquireConfigPartial:
		if o.req.Mode == core.ConfigGlobal {
			return core.InvalidParams
		}
		o.mode, o.unit = o.req.Mode, o.req.UnitName
	}

	if !o.mode.Valid() || (o.mode == core.ConfigUnit && o.unit == "") {
		return core.InvalidParams
	}
	return o.activeOnly()
}

func (o *configAcquire) GetExclusion(ctx context.Context) core.ResultCode {
	try := func() core.ResultCode {
		id, code := o.env.Locks.AcquireConfig(ctx, o.req.Session, o.mode, o.unit)
		o.configID = id
		return code
	}

	code := try()
	if code == core.Busy && o.req.Service == core.ServiceAcquireConfigTimed {
		code = o.env.ConfigQueue.WaitKey(ctx, core.ScopeName(o.mode, o.unit), o.req.Timeout, try)
	}

	if code == core.AlreadyAcquired {
		o.resp.ConfigID = o.configID
	}
	o.held = code == core.Success
	return code
}

func (o *configAcquire) CreateMessageList(context.Context) core.ResultCode {
	o.msg = &rpc.Message{
		Kind:     core.NotifyConfigID,
		Session:  o.req.Session,
		ConfigID: o.configID,
		Mode:     o.mode,
		UnitName: o.unit,
	}
	return core.Success
}

func (o *configAcquire) Execute(ctx context.Context) core.ResultCode {
	if res := o.env.Messenger.Broadcast(ctx, o.msg); res != messenger.Success {
		return res.Code()
	}

	o.env.Notified.SetConfigID(o.configID)
	return o.env.Locks.NotifyConfigDone(o.configID, o.req.Session, core.ServiceAcquireConfig)
}

func (o *configAcquire) Revoke(ctx context.Context, _ Stage, _ core.ResultCode) {
	if !o.held {
		return
	}
	if code := o.env.Locks.RevokeConfig(o.req.Session, o.configID); code != core.Success {
		logger.ErrorKV(ctx, "revoke config", "session_id", o.req.Session, "config_id", o.configID, "code", code)
	}
	o.held = false
	o.env.releaseConfig()
}

func (o *configAcquire) SendResponse(ctx context.Context, code core.ResultCode) *core.Response {
	if code == core.Success {
		o.resp.ConfigID = o.configID
		o.resp.Mode = o.mode
		o.resp.UnitName = o.unit
	}
	return o.base.SendResponse(ctx, code)
}

// configForce takes the global scope away from its holder. The previous
// holder is marked first so its next write fails with OperationNotAllowed.
type configForce struct {
	base

	configID core.ConfigID
	marked   core.SessionID
	held     bool
	msg      *rpc.Message
}

func newConfigForce(env *Env, req *core.Request) Operation {
	return &configForce{base: newBase(env, req)}
}

func (o *configForce) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	return o.activeOnly()
}

func (o *configForce) GetExclusion(ctx context.Context) core.ResultCode {
	scope := core.ScopeName(core.ConfigGlobal, "")
	if holder := o.env.Locks.Holder(scope); holder != 0 && holder != o.req.Session {
		if o.env.Locks.MarkSession(holder) == core.Success {
			o.marked = holder
		}
	}

	id, code := o.env.Locks.ForceAcquireConfig(ctx, o.req.Session)
	o.configID = id
	o.held = code == core.Success
	if code == core.AlreadyAcquired {
		o.resp.ConfigID = id
	}
	return code
}

func (o *configForce) CreateMessageList(context.Context) core.ResultCode {
	o.msg = &rpc.Message{
		Kind:     core.NotifyConfigID,
		Session:  o.req.Session,
		ConfigID: o.configID,
		Mode:     core.ConfigGlobal,
	}
	return core.Success
}

func (o *configForce) Execute(ctx context.Context) core.ResultCode {
	if res := o.env.Messenger.Broadcast(ctx, o.msg); res != messenger.Success {
		return res.Code()
	}

	o.env.Notified.SetConfigID(o.configID)
	return o.env.Locks.NotifyConfigDone(o.configID, o.req.Session, core.ServiceAcquireConfigForce)
}

func (o *configForce) Revoke(ctx context.Context, _ Stage, _ core.ResultCode) {
	if o.held {
		if code := o.env.Locks.RevokeConfig(o.req.Session, o.configID); code != core.Success {
			logger.ErrorKV(ctx, "revoke forced config", "session_id", o.req.Session, "code", code)
		}
		o.held = false
		o.env.releaseConfig()
		return
	}
	if o.marked != 0 {
		o.env.Locks.ClearMark(core.ScopeName(core.ConfigGlobal, ""))
	}
}

func (o *configForce) SendResponse(ctx context.Context, code core.ResultCode) *core.Response {
	if code == core.Success {
		o.resp.ConfigID = o.configID
		o.resp.Mode = core.ConfigGlobal
	}
	return o.base.SendResponse(ctx, code)
}

// configRelease frees the session's scope. Participants are asked whether
// the candidate database is dirty; a dirty release still succeeds and is
// reported as such.
type configRelease struct {
	base
}

func newConfigRelease(env *Env, req *core.Request) Operation {
	return &configRelease{base: newBase(env, req)}
}

func (o *configRelease) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	if o.req.ConfigID == 0 {
		return core.InvalidConfigID
	}
	return core.Success
}

func (o *configRelease) Execute(ctx context.Context) core.ResultCode {
	if slot, ok := o.env.Locks.ConfigOf(o.req.Session); ok && slot.ConfigID == o.req.ConfigID && !slot.NotifyPending {
		msg := &rpc.Message{
			Session:  o.req.Session,
			ConfigID: slot.ConfigID,
			Mode:     core.ScopeMode(slot.Scope),
		}
		dirty, res := o.env.Messenger.CandidateDirty(ctx, msg)
		if res != messenger.Success {
			logger.WarnKV(ctx, "candidate dirty query", "session_id", o.req.Session, "result", res)
		}
		o.resp.Dirty = dirty
	}

	code := o.env.Locks.ReleaseConfig(ctx, o.req.Session, o.req.ConfigID)
	if code == core.Success {
		o.env.releaseConfig()
	}
	return code
}
