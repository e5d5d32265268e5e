package messenger

import (
	"sync"

	"github.com/escalopa/txcoord/internal/core"
)

// AuditState holds the process-wide progress markers of the running audit.
// Only one audit runs at a time, the write resource guarantees it.
type AuditState struct {
	mu sync.Mutex

	running    bool
	auditType  core.AuditType
	driver     core.DriverType
	controller core.ControllerID

	phase        core.AuditPhase
	cancelFlag   bool
	cancelStatus core.CancelStatus

	// daemons that acknowledged start and tx-start, in notify order
	started   []core.Daemon
	txStarted []core.Daemon
}

func NewAuditState() *AuditState {
	return &AuditState{
		phase:        core.AuditNotStarted,
		cancelStatus: core.CancelNone,
	}
}

// Begin resets the markers for a new audit. It fails while another audit
// runs or a cancel request has not been drained.
func (s *AuditState) Begin(auditType core.AuditType, driver core.DriverType, controller core.ControllerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.cancelFlag {
		return false
	}

	s.running = true
	s.auditType = auditType
	s.driver = driver
	s.controller = controller
	s.phase = core.AuditNotStarted
	s.cancelStatus = core.CancelNone
	s.started = nil
	s.txStarted = nil
	return true
}

// Finish ends the running audit in the End phase. drained reports that a
// cancel request was observed and answered; a request the audit never
// observed lapses.
func (s *AuditState) Finish(drained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case drained:
		s.cancelStatus = core.CancelDone
	case s.cancelFlag:
		s.cancelStatus = core.CancelNone
	}
	s.running = false
	s.cancelFlag = false
	s.phase = core.AuditEnd
	s.started = nil
	s.txStarted = nil
}

// SetPhase moves the audit forward. Moving backwards is ignored.
func (s *AuditState) SetPhase(p core.AuditPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Before(p) {
		s.phase = p
	}
}

func (s *AuditState) Phase() core.AuditPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *AuditState) Status() (core.AuditPhase, core.CancelStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.cancelStatus
}

func (s *AuditState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Target returns the driver and controller of the running audit.
func (s *AuditState) Target() (core.DriverType, core.ControllerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver, s.controller, s.running
}

// RequestCancel raises the cancel flag of a running, cancellable audit that
// has not reached global commit.
func (s *AuditState) RequestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || !s.auditType.Cancellable() {
		return false
	}
	if !s.phase.Before(core.AuditGlobalCommit) {
		return false
	}

	s.cancelFlag = true
	s.cancelStatus = core.CancelRequested
	return true
}

func (s *AuditState) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFlag
}

func (s *AuditState) recordStart(d core.Daemon) {
	s.mu.Lock()
	s.started = append(s.started, d)
	s.mu.Unlock()
}

func (s *AuditState) recordTxStart(d core.Daemon) {
	s.mu.Lock()
	s.txStarted = append(s.txStarted, d)
	s.mu.Unlock()
}

// takeTxStarted returns and forgets the daemons that acknowledged tx-start.
func (s *AuditState) takeTxStarted() []core.Daemon {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.txStarted
	s.txStarted = nil
	return out
}

func (s *AuditState) takeStarted() []core.Daemon {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.started
	s.started = nil
	return out
}
