package pipeline

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
)

// candidate commits or aborts the candidate database. Timed requests that
// find the write resource busy wait on the candidate queue, optionally
// asking a running audit to cancel first.
type candidate struct {
	base

	op    core.WriteOp
	timed bool
	held  bool
	slot  core.RecoveryRecord
	msg   *rpc.Message
}

func newCandidate(env *Env, req *core.Request) Operation {
	o := &candidate{base: newBase(env, req), op: core.WriteCommit}
	switch req.Service {
	case core.ServiceCommitTimed:
		o.timed = true
	case core.ServiceAbortCandidate:
		o.op = core.WriteAbortCandidate
	case core.ServiceAbortCandidateTimed:
		o.op = core.WriteAbortCandidate
		o.timed = true
	}
	return o
}

func (o *candidate) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	if o.timed && o.req.Timeout <= 0 {
		return core.InvalidParams
	}
	return o.activeOnly()
}

func (o *candidate) GetExclusion(ctx context.Context) core.ResultCode {
	if !o.timed {
		code := o.env.Locks.AcquireWrite(ctx, o.req.Session, o.op)
		o.held = code == core.Success
		return code
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.req.Timeout)
	defer cancel()

	try := func() core.ResultCode {
		return o.env.Locks.AcquireWrite(waitCtx, o.req.Session, o.op)
	}

	code := try()
	if code == core.Busy {
		if o.req.CancelAudit && o.env.Messenger.Audit().RequestCancel() {
			logger.WarnKV(ctx, "audit cancel requested", "session_id", o.req.Session, "op", o.op)
		}
		code = o.env.CandidateQueue.Wait(waitCtx, o.req.Timeout, try)
	}
	o.held = code == core.Success
	return code
}

func (o *candidate) CreateMessageList(context.Context) core.ResultCode {
	slot, ok := o.env.Locks.ConfigOf(o.req.Session)
	if !ok {
		return core.NotAcquired
	}

	mode := core.ScopeMode(slot.Scope)
	o.slot = core.RecoveryRecord{
		Database:      core.DatabaseCandidate,
		LastOperation: o.op,
		ConfigMode:    mode,
	}
	if mode == core.ConfigUnit {
		o.slot.UnitName = slot.Scope[len(core.ScopeName(core.ConfigUnit, "")):]
	}

	o.msg = &rpc.Message{
		Session:  o.req.Session,
		ConfigID: slot.ConfigID,
		Mode:     mode,
		UnitName: o.slot.UnitName,
	}
	return core.Success
}

func (o *candidate) Execute(ctx context.Context) core.ResultCode {
	o.env.record(ctx, &o.slot)

	var res messenger.Result
	if o.op == core.WriteCommit {
		res = o.commit(ctx)
	} else {
		res = o.abort(ctx)
	}

	// a fatal outcome leaves the record pending for recovery
	if res != messenger.Fatal {
		done := o.slot
		done.LastOperation = core.WriteNone
		o.env.record(ctx, &done)
	}
	return res.Code()
}

func (o *candidate) commit(ctx context.Context) messenger.Result {
	msgr := o.env.Messenger

	if res := msgr.CommitTxStart(ctx, o.msg); res != messenger.Success {
		return res
	}

	if res, _ := msgr.CommitVote(ctx, o.msg); res != messenger.Success {
		if res != messenger.Fatal {
			msgr.CommitTxEnd(ctx, o.msg, false)
		}
		return res
	}

	res, dcm := msgr.CommitGlobalCommit(ctx, o.msg)
	if res == messenger.Fatal {
		return res
	}
	if end := msgr.CommitTxEnd(ctx, o.msg, res == messenger.Success); end != messenger.Success {
		logger.WarnKV(ctx, "commit tx end", "result", end, "session_id", o.req.Session)
	}
	if res != messenger.Success {
		return res
	}

	logger.InfoKV(ctx, "candidate committed", "session_id", o.req.Session, "config_id", o.msg.ConfigID, "drivers", dcm.Len())
	o.afterCommit(ctx)
	return messenger.Success
}

// afterCommit saves the running configuration when autosave is on and
// resets the global dirty flag.
func (o *candidate) afterCommit(ctx context.Context) {
	store := o.env.Store

	if o.env.Locks.Autosave() {
		msg := o.msg.Clone()
		msg.Kind = core.NotifySaveStartup
		if res := o.env.Messenger.Broadcast(ctx, msg); res == messenger.Success {
			o.env.bumpVersion(ctx, store.GetSaveVersion, store.SetSaveVersion, "save")
		} else {
			logger.WarnKV(ctx, "autosave after commit", "result", res)
		}
	}

	if err := store.SetGlobalDirty(ctx, false); err != nil {
		logger.ErrorKV(ctx, "reset global dirty", "error", err)
	}
}

func (o *candidate) abort(ctx context.Context) messenger.Result {
	msg := o.msg.Clone()
	msg.Kind = core.NotifyAbortCandidate

	res := o.env.Messenger.Broadcast(ctx, msg)
	if res == messenger.Success {
		store := o.env.Store
		o.env.bumpVersion(ctx, store.GetAbortVersion, store.SetAbortVersion, "abort")
	}
	return res
}

func (o *candidate) ReleaseExclusion(context.Context) core.ResultCode {
	o.held = false
	return o.env.releaseWrite(o.req.Session, o.op)
}

func (o *candidate) Revoke(ctx context.Context, _ Stage, _ core.ResultCode) {
	if !o.held {
		return
	}
	if code := o.env.releaseWrite(o.req.Session, o.op); code != core.Success {
		logger.ErrorKV(ctx, "revoke write", "session_id", o.req.Session, "op", o.op, "code", code)
	}
	o.held = false
}

// startupDB saves the running configuration to, or clears, the startup
// database.
type startupDB struct {
	base

	op   core.WriteOp
	held bool
	msg  *rpc.Message
}

func newStartupDB(env *Env, req *core.Request) Operation {
	op := core.WriteSaveStartup
	if req.Service == core.ServiceClearStartup {
		op = core.WriteClearStartup
	}
	return &startupDB{base: newBase(env, req), op: op}
}

func (o *startupDB) Validate(context.Context) core.ResultCode {
	if o.req.Session == 0 {
		return core.InvalidSession
	}
	return o.activeOnly()
}

func (o *startupDB) GetExclusion(ctx context.Context) core.ResultCode {
	code := o.env.Locks.AcquireWrite(ctx, o.req.Session, o.op)
	o.held = code == core.Success
	return code
}

func (o *startupDB) CreateMessageList(context.Context) core.ResultCode {
	kind := core.NotifySaveStartup
	if o.op == core.WriteClearStartup {
		kind = core.NotifyClearStartup
	}
	o.msg = &rpc.Message{Kind: kind, Session: o.req.Session}
	return core.Success
}

func (o *startupDB) Execute(ctx context.Context) core.ResultCode {
	rec := &core.RecoveryRecord{Database: core.DatabaseStartup, LastOperation: o.op}
	o.env.record(ctx, rec)

	res := o.env.Messenger.Broadcast(ctx, o.msg)
	if res == messenger.Fatal {
		return res.Code()
	}

	rec.LastOperation = core.WriteNone
	o.env.record(ctx, rec)

	if res == messenger.Success && o.op == core.WriteSaveStartup {
		store := o.env.Store
		o.env.bumpVersion(ctx, store.GetSaveVersion, store.SetSaveVersion, "save")
	}
	return res.Code()
}

func (o *startupDB) ReleaseExclusion(context.Context) core.ResultCode {
	o.held = false
	return o.env.releaseWrite(o.req.Session, o.op)
}

func (o *startupDB) Revoke(ctx context.Context, _ Stage, _ core.ResultCode) {
	if !o.held {
		return
	}
	if code := o.env.releaseWrite(o.req.Session, o.op); code != core.Success {
		logger.ErrorKV(ctx, "revoke write", "session_id", o.req.Session, "op", o.op, "code", code)
	}
	o.held = false
}
