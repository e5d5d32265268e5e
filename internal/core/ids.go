package core

import (
	"strings"

	"github.com/pkg/errors"
)

type (
	SessionID    uint32
	ConfigID     uint32
	ControllerID string
	DriverType   string

	// Daemon names one participant of the notify protocol.
	Daemon string
)

const (
	DaemonLogical  Daemon = "logical"
	DaemonPhysical Daemon = "physical"
)

const (
	DriverPFC  DriverType = "pfc"
	DriverVNP  DriverType = "vnp"
	DriverPOLC DriverType = "polc"
	DriverODC  DriverType = "odc"
)

// KnownDrivers lists the driver types in their protocol order.
var KnownDrivers = []DriverType{DriverPFC, DriverVNP, DriverPOLC, DriverODC}

func (d DriverType) Daemon() Daemon {
	return Daemon(d)
}

func (d Daemon) IsTopology() bool {
	return d == DaemonLogical || d == DaemonPhysical
}

func ParseDaemon(s string) (Daemon, error) {
	d := Daemon(strings.ToLower(strings.TrimSpace(s)))
	if d.IsTopology() {
		return d, nil
	}
	for _, drv := range KnownDrivers {
		if drv.Daemon() == d {
			return d, nil
		}
	}
	return "", errors.Errorf("unknown daemon %q", s)
}

type ConfigMode uint8

const (
	ConfigGlobal ConfigMode = iota
	ConfigReal
	ConfigVirtual
	ConfigUnit
)

func (m ConfigMode) String() string {
	switch m {
	case ConfigGlobal:
		return "global"
	case ConfigReal:
		return "real"
	case ConfigVirtual:
		return "virtual"
	case ConfigUnit:
		return "unit"
	default:
		return "unknown"
	}
}

func (m ConfigMode) Valid() bool {
	return m <= ConfigUnit
}

// ScopeName computes the config slot name for a mode. Only ConfigUnit uses unit.
func ScopeName(mode ConfigMode, unit string) string {
	if mode == ConfigUnit {
		return "unit:" + unit
	}
	return mode.String()
}

// ScopeMode recovers the mode from a scope name produced by ScopeName.
func ScopeMode(scope string) ConfigMode {
	switch {
	case scope == ConfigGlobal.String():
		return ConfigGlobal
	case scope == ConfigReal.String():
		return ConfigReal
	case scope == ConfigVirtual.String():
		return ConfigVirtual
	default:
		return ConfigUnit
	}
}

// WriteOp identifies the holder purpose of the cluster-wide write resource.
type WriteOp uint8

const (
	WriteNone WriteOp = iota
	WriteCommit
	WriteAuditUser
	WriteAuditDriver
	WriteSaveStartup
	WriteClearStartup
	WriteAbortCandidate
)

func (op WriteOp) String() string {
	switch op {
	case WriteNone:
		return "none"
	case WriteCommit:
		return "commit"
	case WriteAuditUser:
		return "audit_user"
	case WriteAuditDriver:
		return "audit_driver"
	case WriteSaveStartup:
		return "save_startup"
	case WriteClearStartup:
		return "clear_startup"
	case WriteAbortCandidate:
		return "abort_candidate"
	default:
		return "unknown"
	}
}

type AuditType uint8

const (
	AuditNormal AuditType = iota
	AuditRealtime
)

func (t AuditType) Cancellable() bool {
	return t != AuditRealtime
}
