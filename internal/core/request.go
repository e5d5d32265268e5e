package core

import "time"

// ServiceID identifies a client-facing operation kind.
type ServiceID uint16

const (
	ServiceUnknown ServiceID = iota
	ServiceAcquireConfig
	ServiceAcquireConfigTimed
	ServiceAcquireConfigPartial
	ServiceAcquireConfigForce
	ServiceReleaseConfig
	ServiceAcquireRead
	ServiceReleaseRead
	ServiceAutosaveEnable
	ServiceAutosaveDisable
	ServiceAutosaveGet
	ServiceCommit
	ServiceCommitTimed
	ServiceAbortCandidate
	ServiceAbortCandidateTimed
	ServiceSaveStartup
	ServiceClearStartup
	ServiceAuditUser
	ServiceAuditDriver
	ServiceGetConfigMode
	ServiceGetClusterState
	ServiceGetAuditStatus
	ServiceGetLastNotified
)

var serviceNames = map[ServiceID]string{
	ServiceAcquireConfig:        "acquire_config",
	ServiceAcquireConfigTimed:   "acquire_config_timed",
	ServiceAcquireConfigPartial: "acquire_config_partial",
	ServiceAcquireConfigForce:   "acquire_config_force",
	ServiceReleaseConfig:        "release_config",
	ServiceAcquireRead:          "acquire_read",
	ServiceReleaseRead:          "release_read",
	ServiceAutosaveEnable:       "autosave_enable",
	ServiceAutosaveDisable:      "autosave_disable",
	ServiceAutosaveGet:          "autosave_get",
	ServiceCommit:               "commit",
	ServiceCommitTimed:          "commit_timed",
	ServiceAbortCandidate:       "abort_candidate",
	ServiceAbortCandidateTimed:  "abort_candidate_timed",
	ServiceSaveStartup:          "save_startup",
	ServiceClearStartup:         "clear_startup",
	ServiceAuditUser:            "audit_user",
	ServiceAuditDriver:          "audit_driver",
	ServiceGetConfigMode:        "get_config_mode",
	ServiceGetClusterState:      "get_cluster_state",
	ServiceGetAuditStatus:       "get_audit_status",
	ServiceGetLastNotified:      "get_last_notified",
}

func (s ServiceID) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return "unknown"
}

// Request is one inbound client call.
type Request struct {
	Service  ServiceID
	Session  SessionID
	ConfigID ConfigID

	Mode     ConfigMode
	UnitName string

	// Timeout bounds timed acquisitions and read-session holds; 0 means none.
	Timeout time.Duration

	CancelAudit bool
	Controller  ControllerID
	Driver      DriverType
	AuditType   AuditType
}

// Response is the single terminal answer to a Request.
type Response struct {
	Service  ServiceID
	Code     ResultCode
	ConfigID ConfigID

	Mode     ConfigMode
	UnitName string

	Dirty    bool
	Autosave bool

	ClusterState ClusterState
	AuditPhase   AuditPhase
	CancelStatus CancelStatus

	LastDriver DriverType
}

// Notify identifies a coordination message kind sent to participant daemons.
type Notify uint16

const (
	NotifyUnknown Notify = iota
	NotifySetup
	NotifySetupComplete
	NotifyConfigID
	NotifySaveStartup
	NotifyClearStartup
	NotifyAutosaveEnable
	NotifyAutosaveDisable
	NotifyAuditDB
	NotifyAbortCandidate
	NotifyCandidateDirty

	NotifyCommitTxStart
	NotifyCommitTxEnd
	NotifyCommitVote
	NotifyCommitGlobalCommit
	NotifyCommitDriverResult
	NotifyCommitAbort

	NotifyAuditStart
	NotifyAuditEnd
	NotifyAuditTxStart
	NotifyAuditTxEnd
	NotifyAuditVote
	NotifyAuditGlobalCommit
	NotifyAuditDriverResult
	NotifyAuditAbort
)

var notifyNames = map[Notify]string{
	NotifySetup:              "setup",
	NotifySetupComplete:      "setup_complete",
	NotifyConfigID:           "notify_config_id",
	NotifySaveStartup:        "save_startup",
	NotifyClearStartup:       "clear_startup",
	NotifyAutosaveEnable:     "autosave_enable",
	NotifyAutosaveDisable:    "autosave_disable",
	NotifyAuditDB:            "audit_db",
	NotifyAbortCandidate:     "abort_candidate",
	NotifyCandidateDirty:     "candidate_dirty",
	NotifyCommitTxStart:      "commit_tx_start",
	NotifyCommitTxEnd:        "commit_tx_end",
	NotifyCommitVote:         "commit_vote",
	NotifyCommitGlobalCommit: "commit_global_commit",
	NotifyCommitDriverResult: "commit_driver_result",
	NotifyCommitAbort:        "commit_abort",
	NotifyAuditStart:         "audit_start",
	NotifyAuditEnd:           "audit_end",
	NotifyAuditTxStart:       "audit_tx_start",
	NotifyAuditTxEnd:         "audit_tx_end",
	NotifyAuditVote:          "audit_vote",
	NotifyAuditGlobalCommit:  "audit_global_commit",
	NotifyAuditDriverResult:  "audit_driver_result",
	NotifyAuditAbort:         "audit_abort",
}

func (n Notify) String() string {
	if name, ok := notifyNames[n]; ok {
		return name
	}
	return "unknown"
}
