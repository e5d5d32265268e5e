package pipeline

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
)

// audit reconciles one controller of a driver with the topology services.
// Driver triggered audits of a controller that is already being audited
// wait for that run and share its result.
type audit struct {
	base

	op   core.WriteOp
	held bool

	run    *auditRun
	owner  bool
	joined core.ResultCode

	msg *rpc.Message
}

func newAudit(env *Env, req *core.Request) Operation {
	op := core.WriteAuditUser
	if req.Service == core.ServiceAuditDriver {
		op = core.WriteAuditDriver
	}
	return &audit{base: newBase(env, req), op: op}
}

func (o *audit) driverTriggered() bool {
	return o.op == core.WriteAuditDriver
}

func (o *audit) Validate(context.Context) core.ResultCode {
	d, err := core.ParseDaemon(string(o.req.Driver))
	if err != nil || d.IsTopology() {
		return core.InvalidParams
	}
	o.req.Driver = core.DriverType(d)
	if o.req.Controller == "" {
		return core.InvalidParams
	}
	if !o.driverTriggered() && o.req.Session == 0 {
		return core.InvalidSession
	}
	return o.activeOnly()
}

func (o *audit) GetExclusion(ctx context.Context) core.ResultCode {
	if !o.driverTriggered() {
		code := o.env.Locks.AcquireWrite(ctx, o.req.Session, o.op)
		o.held = code == core.Success
		return code
	}

	o.run, o.owner = o.env.Audits.join(o.req.Controller)
	if !o.owner {
		// the result of the run we joined is our result
		o.joined = o.run.wait(ctx)
		return core.Success
	}

	try := func() core.ResultCode {
		return o.env.Locks.AcquireWrite(ctx, o.req.Session, o.op)
	}

	code := try()
	if code == core.Busy {
		code = o.env.Audits.waitWrite(ctx, try)
	}
	o.held = code == core.Success
	return code
}

func (o *audit) CreateMessageList(context.Context) core.ResultCode {
	o.msg = &rpc.Message{
		Session:     o.req.Session,
		Driver:      o.req.Driver,
		Controllers: []core.ControllerID{o.req.Controller},
		AuditType:   o.req.AuditType,
	}
	return core.Success
}

func (o *audit) Execute(ctx context.Context) core.ResultCode {
	if o.run != nil && !o.owner {
		return o.joined
	}

	state := o.env.Messenger.Audit()
	if !state.Begin(o.req.AuditType, o.req.Driver, o.req.Controller) {
		return core.Busy
	}
	if o.driverTriggered() {
		o.env.Notified.SetDriver(o.req.Driver)
	}

	res := o.runAudit(ctx)
	if res == messenger.Fatal {
		// no compensation, the next audit resynchronizes
		state.Finish(false)
	}
	if res == messenger.Success {
		logger.InfoKV(ctx, "audit done", "driver", o.req.Driver, "controller", o.req.Controller)
	}
	return res.Code()
}

// runAudit walks the audit phases. Every path that does not end Fatal or
// Cancelled leaves the audit finished.
func (o *audit) runAudit(ctx context.Context) messenger.Result {
	msgr := o.env.Messenger

	switch res := msgr.AuditStart(ctx, o.msg); res {
	case messenger.Success:
	case messenger.Abort:
		msgr.Audit().Finish(false)
		return res
	default:
		return res
	}

	switch res := msgr.AuditTxStart(ctx, o.msg); res {
	case messenger.Success:
	case messenger.Abort:
		msgr.AuditEnd(ctx, o.msg, false)
		return res
	default:
		return res
	}

	switch res, _ := msgr.AuditVote(ctx, o.msg); res {
	case messenger.Success:
	case messenger.Abort:
		msgr.AuditTxEnd(ctx, o.msg, false)
		msgr.AuditEnd(ctx, o.msg, false)
		return res
	default:
		return res
	}

	res, _ := msgr.AuditGlobalCommit(ctx, o.msg)
	if res == messenger.Fatal {
		return res
	}

	ok := res == messenger.Success
	msgr.AuditTxEnd(ctx, o.msg, ok)
	msgr.AuditEnd(ctx, o.msg, ok)
	return res
}

func (o *audit) ReleaseExclusion(ctx context.Context) core.ResultCode {
	o.complete(core.Success)
	if !o.held {
		return core.Success
	}
	o.held = false
	return o.env.releaseWrite(o.req.Session, o.op)
}

func (o *audit) Revoke(ctx context.Context, _ Stage, code core.ResultCode) {
	o.complete(code)
	if !o.held {
		return
	}
	if rc := o.env.releaseWrite(o.req.Session, o.op); rc != core.Success {
		logger.ErrorKV(ctx, "revoke write", "session_id", o.req.Session, "op", o.op, "code", rc)
	}
	o.held = false
}

// complete hands code to every request that joined this run.
func (o *audit) complete(code core.ResultCode) {
	if o.run == nil || !o.owner {
		return
	}
	o.env.Audits.complete(o.req.Controller, o.run, code)
	o.run = nil
}
