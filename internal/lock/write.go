package lock

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
)

// validateWriter checks that session may request op. Driver triggered audits
// run without a config session.
func (m *Manager) validateWriter(session core.SessionID, op core.WriteOp) core.ResultCode {
	if op == core.WriteAuditDriver {
		return core.Success
	}
	if session == 0 {
		return core.InvalidSession
	}

	m.configMu.Lock()
	defer m.configMu.Unlock()

	if slot := m.heldByLocked(session); slot != nil {
		if slot.Marked == session {
			return core.OperationNotAllowed
		}
		return core.Success
	}
	if m.markedLocked(session) != nil {
		// taken over by a forced acquisition
		return core.OperationNotAllowed
	}
	return core.NotAcquired
}

// AcquireWrite takes the exclusive side of the write gate for op. It returns
// Busy when another writer holds it and waits for readers to drain otherwise.
func (m *Manager) AcquireWrite(ctx context.Context, session core.SessionID, op core.WriteOp) core.ResultCode {
	if op == core.WriteNone {
		return core.InvalidOperation
	}
	if m.ClusterState() != core.StateActive {
		return core.InvalidClusterState
	}
	if code := m.validateWriter(session, op); code != core.Success {
		return code
	}

	code := m.gate.acquireWrite(ctx, session, op)
	if code == core.Busy {
		holder, holderOp, _ := m.gate.writeHolder()
		metrics.LockBusy.WithLabelValues("write").Inc()
		logger.WarnKV(ctx, "write acquire busy",
			"session_id", session,
			"op", op,
			"holder_session_id", holder,
			"holder_op", holderOp,
		)
	}
	return code
}

func (m *Manager) ReleaseWrite(session core.SessionID, op core.WriteOp) core.ResultCode {
	return m.gate.releaseWrite(session, op)
}

func (m *Manager) AcquireWriteCommit(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteCommit)
}

func (m *Manager) AcquireWriteAbortCandidate(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteAbortCandidate)
}

func (m *Manager) AcquireWriteAuditUser(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteAuditUser)
}

// AcquireWriteAuditDriver is used for audits triggered by a driver, session may be 0.
func (m *Manager) AcquireWriteAuditDriver(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteAuditDriver)
}

func (m *Manager) AcquireWriteSaveStartup(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteSaveStartup)
}

func (m *Manager) AcquireWriteClearStartup(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireWrite(ctx, session, core.WriteClearStartup)
}
