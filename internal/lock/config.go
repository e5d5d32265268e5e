package lock

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
)

// ConfigSlot is one named configuration scope.
type ConfigSlot struct {
	Scope    string
	ConfigID core.ConfigID
	Holder   core.SessionID
	Marked   core.SessionID
	Taken    bool

	// NotifyPending is set from acquisition until the config id broadcast
	// for NotifyOp has completed.
	NotifyPending bool
	NotifyOp      core.ServiceID
}

func (s *ConfigSlot) clear() {
	s.ConfigID = 0
	s.Holder = 0
	s.Marked = 0
	s.Taken = false
	s.NotifyPending = false
	s.NotifyOp = core.ServiceUnknown
}

func (m *Manager) slotLocked(scope string) *ConfigSlot {
	slot, ok := m.slots[scope]
	if !ok {
		slot = &ConfigSlot{Scope: scope}
		m.slots[scope] = slot
	}
	return slot
}

func (m *Manager) heldByLocked(session core.SessionID) *ConfigSlot {
	for _, slot := range m.slots {
		if slot.Taken && slot.Holder == session {
			return slot
		}
	}
	return nil
}

func (m *Manager) markedLocked(session core.SessionID) *ConfigSlot {
	for _, slot := range m.slots {
		if slot.Marked == session {
			return slot
		}
	}
	return nil
}

func (m *Manager) nextConfigIDLocked() core.ConfigID {
	m.lastConfigID++
	if m.lastConfigID == 0 {
		m.lastConfigID++
	}
	return m.lastConfigID
}

// conflicts reports whether scope overlaps a scope held by another session.
// Global covers every partial scope and virtual covers every unit scope.
func conflicts(scope, held string) bool {
	if scope == held {
		return false
	}
	a, b := core.ScopeMode(scope), core.ScopeMode(held)
	switch {
	case a == core.ConfigGlobal || b == core.ConfigGlobal:
		return true
	case a == core.ConfigVirtual && b == core.ConfigUnit:
		return true
	case a == core.ConfigUnit && b == core.ConfigVirtual:
		return true
	}
	return false
}

// ScopesOverlap reports whether acquisitions of scopes a and b can block
// each other.
func ScopesOverlap(a, b string) bool {
	return a == b || conflicts(a, b)
}

func (m *Manager) conflictLocked(scope string, session core.SessionID) *ConfigSlot {
	for _, slot := range m.slots {
		if slot.Taken && slot.Holder != session && conflicts(scope, slot.Scope) {
			return slot
		}
	}
	return nil
}

// AcquireConfig takes the scope computed from mode and unit for session.
func (m *Manager) AcquireConfig(ctx context.Context, session core.SessionID, mode core.ConfigMode, unit string) (core.ConfigID, core.ResultCode) {
	if !m.Active() {
		return 0, core.InvalidClusterState
	}
	if session == 0 {
		return 0, core.InvalidSession
	}
	if !mode.Valid() || (mode == core.ConfigUnit && unit == "") {
		return 0, core.InvalidParams
	}

	scope := core.ScopeName(mode, unit)

	m.configMu.Lock()
	defer m.configMu.Unlock()

	if held := m.heldByLocked(session); held != nil {
		return held.ConfigID, core.AlreadyAcquired
	}

	slot := m.slotLocked(scope)
	switch {
	case slot.Marked != 0 && slot.Marked != session,
		slot.Taken,
		slot.NotifyPending:
		m.busy(ctx, "config acquire busy", session, scope, slot.Holder)
		return 0, core.Busy
	}

	if other := m.conflictLocked(scope, session); other != nil {
		m.busy(ctx, "config acquire busy", session, scope, other.Holder)
		return 0, core.Busy
	}

	slot.Taken = true
	slot.Holder = session
	slot.ConfigID = m.nextConfigIDLocked()
	slot.NotifyPending = true
	slot.NotifyOp = core.ServiceAcquireConfig
	return slot.ConfigID, core.Success
}

// ForceAcquireConfig takes the global scope regardless of its current holder.
// It still refuses while a config id broadcast is pending or while partial
// scopes are held by other sessions.
func (m *Manager) ForceAcquireConfig(ctx context.Context, session core.SessionID) (core.ConfigID, core.ResultCode) {
	if !m.Active() {
		return 0, core.InvalidClusterState
	}
	if session == 0 {
		return 0, core.InvalidSession
	}

	scope := core.ScopeName(core.ConfigGlobal, "")

	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.slotLocked(scope)
	if slot.Taken && slot.Holder == session {
		return slot.ConfigID, core.AlreadyAcquired
	}
	if held := m.heldByLocked(session); held != nil {
		return held.ConfigID, core.AlreadyAcquired
	}
	if slot.NotifyPending {
		m.busy(ctx, "config acquire busy", session, scope, slot.Holder)
		return 0, core.Busy
	}
	if other := m.conflictLocked(scope, session); other != nil {
		m.busy(ctx, "config acquire busy", session, scope, other.Holder)
		return 0, core.Busy
	}

	previous := slot.Holder
	slot.Taken = true
	slot.Holder = session
	slot.ConfigID = m.nextConfigIDLocked()
	slot.NotifyPending = true
	slot.NotifyOp = core.ServiceAcquireConfigForce
	if slot.Marked == session {
		slot.Marked = 0
	}

	if previous != 0 && previous != session {
		logger.WarnKV(ctx, "config force acquired", "session_id", session, "previous_session_id", previous, "config_id", slot.ConfigID)
	}
	return slot.ConfigID, core.Success
}

// ReleaseConfig frees the scope held by session. A session that lost its
// scope to a forced takeover gets NotAcquired, one that never held a scope
// gets NoConfigSessionExist.
func (m *Manager) ReleaseConfig(ctx context.Context, session core.SessionID, configID core.ConfigID) core.ResultCode {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.heldByLocked(session)
	switch {
	case slot == nil && m.markedLocked(session) != nil:
		return core.NotAcquired
	case slot == nil:
		return core.NoConfigSessionExist
	case slot.ConfigID != configID:
		return core.InvalidConfigID
	case slot.NotifyPending:
		m.busy(ctx, "config release busy", session, slot.Scope, session)
		return core.Busy
	}

	slot.clear()
	return core.Success
}

// RevokeConfig frees the scope held by session even while its notification
// is pending. Used to roll back an acquisition whose broadcast failed.
func (m *Manager) RevokeConfig(session core.SessionID, configID core.ConfigID) core.ResultCode {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.heldByLocked(session)
	if slot == nil {
		return core.NotAcquired
	}
	if slot.ConfigID != configID {
		return core.InvalidConfigID
	}

	slot.clear()
	return core.Success
}

// NotifyConfigDone clears the pending flag set by the acquisition of configID.
func (m *Manager) NotifyConfigDone(configID core.ConfigID, session core.SessionID, op core.ServiceID) core.ResultCode {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.heldByLocked(session)
	switch {
	case slot == nil:
		return core.NotAcquired
	case slot.ConfigID != configID:
		return core.InvalidConfigID
	case slot.NotifyOp != op:
		return core.InvalidOperation
	}

	slot.NotifyPending = false
	return core.Success
}

// ConfigOf returns a copy of the slot held by session.
func (m *Manager) ConfigOf(session core.SessionID) (ConfigSlot, bool) {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.heldByLocked(session)
	if slot == nil {
		return ConfigSlot{}, false
	}
	return *slot, true
}

// Holder returns the session holding scope, or 0.
func (m *Manager) Holder(scope string) core.SessionID {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	if slot, ok := m.slots[scope]; ok && slot.Taken {
		return slot.Holder
	}
	return 0
}

// MarkSession flags the scope held by session so that session's next
// write attempt fails with OperationNotAllowed and no one else can
// acquire the scope until the mark is cleared.
func (m *Manager) MarkSession(session core.SessionID) core.ResultCode {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	slot := m.heldByLocked(session)
	if slot == nil {
		return core.NotAcquired
	}
	slot.Marked = session
	return core.Success
}

func (m *Manager) GetMarkedSession(scope string) core.SessionID {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	if slot, ok := m.slots[scope]; ok {
		return slot.Marked
	}
	return 0
}

func (m *Manager) ClearMark(scope string) {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	if slot, ok := m.slots[scope]; ok {
		slot.Marked = 0
	}
}

func (m *Manager) busy(ctx context.Context, msg string, session core.SessionID, scope string, holder core.SessionID) {
	metrics.LockBusy.WithLabelValues("config").Inc()
	logger.WarnKV(ctx, msg, "session_id", session, "scope", scope, "holder_session_id", holder)
}
