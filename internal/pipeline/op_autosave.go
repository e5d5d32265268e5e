package pipeline

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
)

// autosave flips the autosave flag, tells the topology services and
// persists the new value.
type autosave struct {
	base

	enable  bool
	flipped bool
	msg     *rpc.Message
}

func newAutosave(env *Env, req *core.Request) Operation {
	return &autosave{
		base:   newBase(env, req),
		enable: req.Service == core.ServiceAutosaveEnable,
	}
}

func (o *autosave) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	return o.activeOnly()
}

func (o *autosave) GetExclusion(context.Context) core.ResultCode {
	var code core.ResultCode
	if o.enable {
		code = o.env.Locks.AutosaveEnable()
	} else {
		code = o.env.Locks.AutosaveDisable()
	}
	o.flipped = code == core.Success
	return code
}

func (o *autosave) CreateMessageList(context.Context) core.ResultCode {
	kind := core.NotifyAutosaveDisable
	if o.enable {
		kind = core.NotifyAutosaveEnable
	}
	o.msg = &rpc.Message{Kind: kind, Session: o.req.Session}
	return core.Success
}

func (o *autosave) Execute(ctx context.Context) core.ResultCode {
	if res := o.env.Messenger.Broadcast(ctx, o.msg); res != messenger.Success {
		return res.Code()
	}

	if err := o.env.Store.SetAutosaveFlag(ctx, o.enable); err != nil {
		logger.ErrorKV(ctx, "set autosave flag", "error", err, "enable", o.enable)
	}
	return core.Success
}

func (o *autosave) Revoke(context.Context, Stage, core.ResultCode) {
	if o.flipped {
		o.env.Locks.SetAutosave(!o.enable)
		o.flipped = false
	}
}

func (o *autosave) SendResponse(ctx context.Context, code core.ResultCode) *core.Response {
	o.resp.Autosave = o.env.Locks.Autosave()
	return o.base.SendResponse(ctx, code)
}
