package core

import "github.com/pkg/errors"

type ClusterState string

func (s ClusterState) String() string {
	return string(s)
}

const (
	StateInit         ClusterState = "init"
	StateActive       ClusterState = "active"
	StateStandby      ClusterState = "standby"
	StateStopped      ClusterState = "stopped"
	StateActiveFailed ClusterState = "active_failed"
)

func ParseClusterState(s string) (ClusterState, error) {
	switch state := ClusterState(s); state {
	case StateInit, StateActive, StateStandby, StateStopped, StateActiveFailed:
		return state, nil
	default:
		return "", errors.Errorf("unknown cluster state %q", s)
	}
}

// RoleUpdate is a request to move the coordinator into another cluster state.
type RoleUpdate struct {
	State ClusterState

	// Done is closed once the update has been processed.
	Done chan struct{}
}

type AuditPhase string

func (p AuditPhase) String() string {
	return string(p)
}

const (
	AuditNotStarted   AuditPhase = "not_started"
	AuditStart        AuditPhase = "start"
	AuditTxStart      AuditPhase = "tx_start"
	AuditVote         AuditPhase = "vote"
	AuditGlobalCommit AuditPhase = "global_commit"
	AuditTxEnd        AuditPhase = "tx_end"
	AuditEnd          AuditPhase = "end"
)

var auditPhaseOrder = map[AuditPhase]int{
	AuditNotStarted:   0,
	AuditStart:        1,
	AuditTxStart:      2,
	AuditVote:         3,
	AuditGlobalCommit: 4,
	AuditTxEnd:        5,
	AuditEnd:          6,
}

// Before reports whether p comes strictly before other within one audit run.
func (p AuditPhase) Before(other AuditPhase) bool {
	return auditPhaseOrder[p] < auditPhaseOrder[other]
}

type CancelStatus string

const (
	CancelNone      CancelStatus = "none"
	CancelRequested CancelStatus = "requested"
	CancelDone      CancelStatus = "done"
)
