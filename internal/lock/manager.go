package lock

import (
	"context"
	"sync"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
)

// Manager arbitrates access to config scopes and to the cluster-wide write
// resource. It never blocks while holding more than one of its mutexes.
type Manager struct {
	stateMu sync.RWMutex
	state   core.ClusterState

	configMu     sync.Mutex
	slots        map[string]*ConfigSlot
	lastConfigID core.ConfigID

	gate *rwGate

	autosaveMu sync.Mutex
	autosave   bool
}

func NewManager(state core.ClusterState) *Manager {
	return &Manager{
		state: state,
		slots: make(map[string]*ConfigSlot),
		gate:  newRWGate(),
	}
}

func (m *Manager) ClusterState() core.ClusterState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) SetClusterState(state core.ClusterState) {
	m.stateMu.Lock()
	previous := m.state
	m.state = state
	m.stateMu.Unlock()

	metrics.SetClusterState(previous.String(), state.String())
}

// Active reports whether client operations are currently allowed.
func (m *Manager) Active() bool {
	return m.ClusterState() == core.StateActive && !m.gate.inTransition()
}

// BeginRoleTransition blocks until no writer holds or waits for the write
// resource, then fences every new config, read and write acquisition.
func (m *Manager) BeginRoleTransition(ctx context.Context) core.ResultCode {
	code := m.gate.beginTransition(ctx)
	if code != core.Success {
		logger.WarnKV(ctx, "role transition refused", "code", code)
	}
	return code
}

// EndRoleTransition moves to state and lifts the transition fence.
func (m *Manager) EndRoleTransition(state core.ClusterState) {
	m.SetClusterState(state)
	m.gate.endTransition()
}

func (m *Manager) InTransition() bool {
	return m.gate.inTransition()
}

func (m *Manager) AcquireRead(ctx context.Context, session core.SessionID) core.ResultCode {
	return m.AcquireReadTimed(ctx, session, 0)
}

// AcquireReadTimed waits at most timeout for the shared side of the gate.
// A zero timeout waits until ctx is done.
func (m *Manager) AcquireReadTimed(ctx context.Context, session core.SessionID, timeout time.Duration) core.ResultCode {
	if !m.Active() {
		return core.InvalidClusterState
	}
	if session == 0 {
		return core.InvalidSession
	}

	code := m.gate.acquireRead(ctx, session, timeout)
	if code == core.Busy {
		metrics.LockBusy.WithLabelValues("read").Inc()
		logger.WarnKV(ctx, "read acquire busy", "session_id", session)
	}
	return code
}

func (m *Manager) ReleaseRead(session core.SessionID) core.ResultCode {
	return m.gate.releaseRead(session)
}

func (m *Manager) IsReader(session core.SessionID) bool {
	return m.gate.isReader(session)
}

// WriteHolder returns the session and operation holding the write resource.
func (m *Manager) WriteHolder() (core.SessionID, core.WriteOp, bool) {
	return m.gate.writeHolder()
}

func (m *Manager) LastWriteOp() core.WriteOp {
	return m.gate.lastWrite()
}

func (m *Manager) AutosaveEnable() core.ResultCode {
	m.autosaveMu.Lock()
	defer m.autosaveMu.Unlock()

	if m.autosave {
		return core.Busy
	}
	m.autosave = true
	return core.Success
}

func (m *Manager) AutosaveDisable() core.ResultCode {
	m.autosaveMu.Lock()
	defer m.autosaveMu.Unlock()

	if !m.autosave {
		return core.Failure
	}
	m.autosave = false
	return core.Success
}

func (m *Manager) Autosave() bool {
	m.autosaveMu.Lock()
	defer m.autosaveMu.Unlock()
	return m.autosave
}

// SetAutosave loads the persisted flag without the toggle checks.
func (m *Manager) SetAutosave(enabled bool) {
	m.autosaveMu.Lock()
	m.autosave = enabled
	m.autosaveMu.Unlock()
}
