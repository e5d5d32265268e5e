package messenger

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/pkg/errors"
)

// txKinds names the messages of one transaction flavour.
type txKinds struct {
	audit bool

	txStart      core.Notify
	txEnd        core.Notify
	vote         core.Notify
	globalCommit core.Notify
	driverResult core.Notify
	abort        core.Notify
}

var (
	commitTx = txKinds{
		txStart:      core.NotifyCommitTxStart,
		txEnd:        core.NotifyCommitTxEnd,
		vote:         core.NotifyCommitVote,
		globalCommit: core.NotifyCommitGlobalCommit,
		driverResult: core.NotifyCommitDriverResult,
		abort:        core.NotifyCommitAbort,
	}
	auditTx = txKinds{
		audit:        true,
		txStart:      core.NotifyAuditTxStart,
		txEnd:        core.NotifyAuditTxEnd,
		vote:         core.NotifyAuditVote,
		globalCommit: core.NotifyAuditGlobalCommit,
		driverResult: core.NotifyAuditDriverResult,
		abort:        core.NotifyAuditAbort,
	}
)

func withKind(base *rpc.Message, kind core.Notify) *rpc.Message {
	msg := base.Clone()
	msg.Kind = kind
	msg.Relays = nil
	return msg
}

// startOrder is the notify order of start messages: drivers first, then the
// topology services. End messages use the reverse.
func (m *Messenger) startOrder(base *rpc.Message, audit bool) []core.Daemon {
	var order []core.Daemon
	if audit {
		if base.Driver != "" {
			order = append(order, base.Driver.Daemon())
		}
	} else {
		for _, d := range m.channels.Drivers() {
			order = append(order, d.Daemon())
		}
	}
	return append(order, topology...)
}

func reversed(in []core.Daemon) []core.Daemon {
	out := make([]core.Daemon, len(in))
	for i, d := range in {
		out[len(in)-1-i] = d
	}
	return out
}

// sequence sends msg along order. When a recipient refuses, every recipient
// that already accepted gets endKind with a failure outcome, latest first.
func (m *Messenger) sequence(ctx context.Context, msg *rpc.Message, order []core.Daemon, endKind core.Notify, record func(core.Daemon)) Result {
	done := make([]core.Daemon, 0, len(order))
	for _, d := range order {
		channel := m.channels.ChannelFor(d)
		if channel == "" {
			if !d.IsTopology() {
				continue
			}
			logger.ErrorKV(ctx, "transaction start", "error", errors.Wrap(core.ErrNoChannel, string(d)), "kind", msg.Kind)
			m.compensate(ctx, msg, endKind, done)
			return Abort
		}

		switch res := m.send(ctx, d, channel, targeted(msg, d), m.timeout); res {
		case Success:
		case Fatal:
			return Fatal
		default:
			m.compensate(ctx, msg, endKind, done)
			return Abort
		}

		done = append(done, d)
		if record != nil {
			record(d)
		}
	}
	return Success
}

// notifyAll sends msg to every recipient regardless of earlier refusals and
// returns the most severe outcome.
func (m *Messenger) notifyAll(ctx context.Context, msg *rpc.Message, order []core.Daemon) Result {
	result := Success
	for _, d := range order {
		channel := m.channels.ChannelFor(d)
		if channel == "" {
			if d.IsTopology() {
				result = worse(result, Abort)
			}
			continue
		}
		result = worse(result, m.send(ctx, d, channel, targeted(msg, d), m.timeout))
	}
	return result
}

func (m *Messenger) CommitTxStart(ctx context.Context, base *rpc.Message) Result {
	msg := withKind(base, commitTx.txStart)
	return m.sequence(ctx, msg, m.startOrder(base, false), commitTx.txEnd, nil)
}

func (m *Messenger) CommitTxEnd(ctx context.Context, base *rpc.Message, success bool) Result {
	msg := withKind(base, commitTx.txEnd)
	msg.Success = success
	return m.notifyAll(ctx, msg, reversed(m.startOrder(base, false)))
}

func (m *Messenger) CommitVote(ctx context.Context, base *rpc.Message) (Result, *DriverControllerMap) {
	return m.twoPhase(ctx, base, commitTx, true)
}

func (m *Messenger) CommitGlobalCommit(ctx context.Context, base *rpc.Message) (Result, *DriverControllerMap) {
	return m.twoPhase(ctx, base, commitTx, false)
}

// AuditStart notifies the audited driver and the topology services that an
// audit begins. The caller must have called AuditState.Begin.
func (m *Messenger) AuditStart(ctx context.Context, base *rpc.Message) Result {
	m.audit.SetPhase(core.AuditStart)

	msg := withKind(base, core.NotifyAuditStart)
	res := m.sequence(ctx, msg, m.startOrder(base, true), core.NotifyAuditEnd, m.audit.recordStart)
	if res == Abort {
		m.audit.takeStarted() // already compensated
	}
	return res
}

func (m *Messenger) AuditTxStart(ctx context.Context, base *rpc.Message) Result {
	if base.AuditType.Cancellable() && m.audit.CancelRequested() {
		return m.drain(ctx, base)
	}

	m.audit.SetPhase(core.AuditTxStart)

	msg := withKind(base, auditTx.txStart)
	res := m.sequence(ctx, msg, m.startOrder(base, true), auditTx.txEnd, m.audit.recordTxStart)
	if res == Abort {
		m.audit.takeTxStarted()
	}
	return res
}

func (m *Messenger) AuditVote(ctx context.Context, base *rpc.Message) (Result, *DriverControllerMap) {
	m.audit.SetPhase(core.AuditVote)
	return m.twoPhase(ctx, base, auditTx, true)
}

func (m *Messenger) AuditGlobalCommit(ctx context.Context, base *rpc.Message) (Result, *DriverControllerMap) {
	m.audit.SetPhase(core.AuditGlobalCommit)
	return m.twoPhase(ctx, base, auditTx, false)
}

// AuditTxEnd closes the transaction on every daemon that acknowledged tx-start.
func (m *Messenger) AuditTxEnd(ctx context.Context, base *rpc.Message, success bool) Result {
	m.audit.SetPhase(core.AuditTxEnd)

	msg := withKind(base, auditTx.txEnd)
	msg.Success = success
	return m.notifyAll(ctx, msg, reversed(m.audit.takeTxStarted()))
}

// AuditEnd closes the audit on every daemon that acknowledged start and
// finishes the audit run.
func (m *Messenger) AuditEnd(ctx context.Context, base *rpc.Message, success bool) Result {
	defer m.audit.Finish(false)

	msg := withKind(base, core.NotifyAuditEnd)
	msg.Success = success
	return m.notifyAll(ctx, msg, reversed(m.audit.takeStarted()))
}

// drain answers an observed cancel request: every daemon that acknowledged
// tx-start or start gets the matching end message, latest first, and the
// audit run finishes as cancelled.
func (m *Messenger) drain(ctx context.Context, base *rpc.Message) Result {
	if txStarted := m.audit.takeTxStarted(); len(txStarted) > 0 {
		m.audit.SetPhase(core.AuditTxEnd)
		m.compensate(ctx, base, auditTx.txEnd, txStarted)
	}
	m.compensate(ctx, base, core.NotifyAuditEnd, m.audit.takeStarted())
	m.audit.Finish(true)

	metrics.AuditCancelled.Inc()
	logger.WarnKV(ctx, "audit cancelled", "driver", base.Driver, "session_id", base.Session)
	return Cancelled
}

// twoPhase runs the vote or global commit half of a transaction.
func (m *Messenger) twoPhase(ctx context.Context, base *rpc.Message, k txKinds, vote bool) (Result, *DriverControllerMap) {
	cancellable := vote && k.audit && base.AuditType.Cancellable()
	cancelled := func() bool {
		return cancellable && m.audit.CancelRequested()
	}

	kind := k.globalCommit
	if vote {
		kind = k.vote
	}

	dcm := NewDriverControllerMap()
	if cancelled() {
		return m.drain(ctx, base), dcm
	}

	// aggregate
	msg := withKind(base, kind)
	for _, d := range topology {
		channel := m.channels.ChannelFor(d)
		if channel == "" {
			logger.ErrorKV(ctx, "aggregate drivers", "error", errors.Wrap(core.ErrNoChannel, string(d)), "kind", kind)
			return Abort, dcm
		}

		reply, err := m.caller.Call(ctx, channel, msg, m.timeout)
		if err != nil {
			logger.ErrorKV(ctx, "aggregate drivers", "error", err, "daemon", d, "kind", kind)
			return Fatal, dcm
		}
		if !reply.OK() {
			logger.WarnKV(ctx, "participant refused", "daemon", d, "kind", kind, "result", reply.Result)
			return Abort, dcm
		}
		dcm.Merge(d, reply.Drivers)
	}

	pending := make(map[core.Daemon]rpc.PendingCall, len(topology))
	defer func() {
		for d, pc := range pending {
			if err := pc.Close(); err != nil {
				logger.ErrorKV(ctx, "close pending result", "error", err, "daemon", d)
			}
		}
	}()

	resultMsg := withKind(base, k.driverResult)
	for _, d := range topology {
		pc, err := m.caller.Open(ctx, m.channels.ChannelFor(d), resultMsg)
		if err != nil {
			logger.ErrorKV(ctx, "open pending result", "error", err, "daemon", d)
			return Fatal, dcm
		}
		pending[d] = pc
	}

	// drivers
	var (
		done   []core.Daemon
		failed bool
	)
	for _, drv := range dcm.Drivers() {
		if cancelled() {
			return m.drain(ctx, base), dcm
		}

		controllers := dcm.Controllers(drv)
		channel := m.channels.ChannelFor(drv.Daemon())
		if channel == "" {
			m.relayNotPresent(ctx, drv, controllers, pending)
			continue
		}

		dmsg := withKind(base, kind)
		dmsg.Driver = drv
		dmsg.Controllers = controllers

		reply, err := m.caller.Call(ctx, channel, dmsg, m.timeout)
		if err != nil {
			logger.ErrorKV(ctx, "driver phase", "error", err, "driver", drv, "kind", kind)
			return Fatal, dcm
		}
		if !reply.OK() {
			logger.WarnKV(ctx, "driver refused", "driver", drv, "kind", kind, "result", reply.Result)
			if vote {
				m.compensate(ctx, withKind(base, k.abort), k.abort, done)
				return Abort, dcm
			}
			failed = true
		}

		for _, r := range dcm.Reporters(drv) {
			pending[r].Relay(reply.Raw)
		}
		if reply.OK() {
			done = append(done, drv.Daemon())
		}

		if cancelled() {
			return m.drain(ctx, base), dcm
		}
	}

	// results
	for _, d := range topology {
		reply, err := pending[d].Invoke(ctx, m.timeout)
		if err != nil {
			logger.ErrorKV(ctx, "result phase", "error", err, "daemon", d, "kind", k.driverResult)
			return Fatal, dcm
		}
		if !reply.OK() {
			logger.WarnKV(ctx, "result refused", "daemon", d, "kind", k.driverResult, "result", reply.Result)
			if !vote {
				return Fatal, dcm
			}
			m.compensate(ctx, withKind(base, k.abort), k.abort, done)
			return Abort, dcm
		}
	}

	if failed {
		return Abort, dcm
	}
	return Success, dcm
}

// relayNotPresent stands in for a driver that is not deployed: one negative
// result per controller goes to both topology services.
func (m *Messenger) relayNotPresent(ctx context.Context, drv core.DriverType, controllers []core.ControllerID, pending map[core.Daemon]rpc.PendingCall) {
	logger.WarnKV(ctx, "driver not present", "driver", drv, "controllers", len(controllers))

	for _, c := range controllers {
		res := rpc.DriverResult{
			Driver:     drv,
			Controller: c,
			Result:     core.RemoteDriverNotPresent,
		}
		raw, err := res.MarshalWire()
		if err != nil {
			logger.ErrorKV(ctx, "encode driver result", "error", err, "driver", drv)
			continue
		}
		for _, d := range topology {
			pending[d].Relay(raw)
		}
	}
}
