package pipeline

import (
	"context"

	"github.com/escalopa/txcoord/internal/core"
)

// query answers the read-only status services.
type query struct {
	base
}

func newQuery(env *Env, req *core.Request) Operation {
	return &query{base: newBase(env, req)}
}

func (o *query) Execute(context.Context) core.ResultCode {
	switch o.req.Service {
	case core.ServiceAutosaveGet:
		o.resp.Autosave = o.env.Locks.Autosave()

	case core.ServiceGetConfigMode:
		slot, ok := o.env.Locks.ConfigOf(o.req.Session)
		if !ok {
			return core.NotAcquired
		}
		o.resp.ConfigID = slot.ConfigID
		o.resp.Mode = core.ScopeMode(slot.Scope)
		if o.resp.Mode == core.ConfigUnit {
			o.resp.UnitName = slot.Scope[len(core.ScopeName(core.ConfigUnit, "")):]
		}

	case core.ServiceGetClusterState:
		o.resp.ClusterState = o.env.Locks.ClusterState()

	case core.ServiceGetAuditStatus:
		o.resp.AuditPhase, o.resp.CancelStatus = o.env.Messenger.Audit().Status()

	case core.ServiceGetLastNotified:
		o.resp.ConfigID, o.resp.LastDriver = o.env.Notified.Get()
	}
	return core.Success
}
