package core

import (
	"encoding/json"
)

type Database string

const (
	DatabaseNone      Database = ""
	DatabaseCandidate Database = "candidate"
	DatabaseRunning   Database = "running"
	DatabaseStartup   Database = "startup"
)

// RecoveryRecord remembers the write operation that was in flight so that a
// restarted or newly active coordinator can resynchronize participants.
type RecoveryRecord struct {
	Database Database `json:"database"`

	// LastOperation is WriteNone once the operation completed.
	LastOperation WriteOp `json:"last_operation"`

	ConfigMode ConfigMode `json:"config_mode"`
	UnitName   string     `json:"unit_name"`

	FailoverInstance uint32 `json:"failover_instance"`
}

func (r *RecoveryRecord) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

func (r *RecoveryRecord) Pending() bool {
	return r.LastOperation != WriteNone
}

func RecoveryRecordFromBytes(bytes []byte) (*RecoveryRecord, error) {
	var r RecoveryRecord

	err := json.Unmarshal(bytes, &r)
	if err != nil {
		return nil, err
	}

	return &r, nil
}
