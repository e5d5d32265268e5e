package wire

import (
	"time"

	"github.com/escalopa/txcoord/internal/core"
)

// Request carries a core.Request over the client gRPC service.
type Request core.Request

func (r *Request) MarshalWire() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(r.Service))
	e.Uint(2, uint64(r.Session))
	e.Uint(3, uint64(r.ConfigID))
	e.Uint(4, uint64(r.Mode))
	e.String(5, r.UnitName)
	e.Uint(6, uint64(r.Timeout.Milliseconds()))
	e.Bool(7, r.CancelAudit)
	e.String(8, string(r.Controller))
	e.String(9, string(r.Driver))
	e.Uint(10, uint64(r.AuditType))
	return e.Bytes(), nil
}

func (r *Request) UnmarshalWire(b []byte) error {
	*r = Request{}
	return Decode(b, func(f *Field) error {
		switch f.Num {
		case 1:
			r.Service = core.ServiceID(f.Uint())
		case 2:
			r.Session = core.SessionID(f.Uint())
		case 3:
			r.ConfigID = core.ConfigID(f.Uint())
		case 4:
			r.Mode = core.ConfigMode(f.Uint())
		case 5:
			r.UnitName = f.String()
		case 6:
			r.Timeout = time.Duration(f.Uint()) * time.Millisecond
		case 7:
			r.CancelAudit = f.Bool()
		case 8:
			r.Controller = core.ControllerID(f.String())
		case 9:
			r.Driver = core.DriverType(f.String())
		case 10:
			r.AuditType = core.AuditType(f.Uint())
		}
		return nil
	})
}

// Response carries a core.Response over the client gRPC service.
type Response core.Response

func (r *Response) MarshalWire() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(r.Service))
	e.Uint(2, uint64(r.Code))
	e.Uint(3, uint64(r.ConfigID))
	e.Uint(4, uint64(r.Mode))
	e.String(5, r.UnitName)
	e.Bool(6, r.Dirty)
	e.Bool(7, r.Autosave)
	e.String(8, string(r.ClusterState))
	e.String(9, string(r.AuditPhase))
	e.String(10, string(r.CancelStatus))
	e.String(11, string(r.LastDriver))
	return e.Bytes(), nil
}

func (r *Response) UnmarshalWire(b []byte) error {
	*r = Response{}
	return Decode(b, func(f *Field) error {
		switch f.Num {
		case 1:
			r.Service = core.ServiceID(f.Uint())
		case 2:
			r.Code = core.ResultCode(f.Uint())
		case 3:
			r.ConfigID = core.ConfigID(f.Uint())
		case 4:
			r.Mode = core.ConfigMode(f.Uint())
		case 5:
			r.UnitName = f.String()
		case 6:
			r.Dirty = f.Bool()
		case 7:
			r.Autosave = f.Bool()
		case 8:
			r.ClusterState = core.ClusterState(f.String())
		case 9:
			r.AuditPhase = core.AuditPhase(f.String())
		case 10:
			r.CancelStatus = core.CancelStatus(f.String())
		case 11:
			r.LastDriver = core.DriverType(f.String())
		}
		return nil
	})
}
