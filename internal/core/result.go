package core

// ResultCode is the outcome of a lock or pipeline operation as seen by clients.
type ResultCode uint8

const (
	Success ResultCode = iota
	AlreadyAcquired
	NotAcquired
	InvalidConfigID
	InvalidOperation
	InvalidSession
	InvalidClusterState
	Busy
	OperationNotAllowed
	InvalidParams
	NoConfigSessionExist
	Failure
	Fatal
	AuditCancelled
)

var resultNames = [...]string{
	Success:              "success",
	AlreadyAcquired:      "already_acquired",
	NotAcquired:          "not_acquired",
	InvalidConfigID:      "invalid_config_id",
	InvalidOperation:     "invalid_operation",
	InvalidSession:       "invalid_session",
	InvalidClusterState:  "invalid_cluster_state",
	Busy:                 "busy",
	OperationNotAllowed:  "operation_not_allowed",
	InvalidParams:        "invalid_params",
	NoConfigSessionExist: "no_config_session_exist",
	Failure:              "failure",
	Fatal:                "fatal",
	AuditCancelled:       "audit_cancelled",
}

func (c ResultCode) String() string {
	if int(c) < len(resultNames) {
		return resultNames[c]
	}
	return "unknown"
}

func (c ResultCode) OK() bool {
	return c == Success
}

// DBResult is the tri-state outcome of a persistence call.
type DBResult uint8

const (
	DBSuccess DBResult = iota
	DBFailure
	DBFatal
)

func (r DBResult) String() string {
	switch r {
	case DBSuccess:
		return "success"
	case DBFailure:
		return "failure"
	default:
		return "fatal"
	}
}

// RemoteResult is the status a participant daemon puts in its reply.
type RemoteResult uint32

const (
	RemoteSuccess RemoteResult = iota
	RemoteFailure
	RemoteDriverNotPresent
)
