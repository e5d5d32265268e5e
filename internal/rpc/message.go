package rpc

import (
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
)

// Message is the coordination envelope sent to a participant daemon. Business
// payloads travel opaquely in Relays.
type Message struct {
	Kind     core.Notify
	Session  core.SessionID
	ConfigID core.ConfigID

	Mode     core.ConfigMode
	UnitName string

	Driver      core.DriverType
	Controllers []core.ControllerID
	AuditType   core.AuditType

	// Success is the outcome carried by end/abort messages.
	Success bool

	Relays [][]byte
}

// Clone copies msg so the copy's relays can be extended independently.
func (m *Message) Clone() *Message {
	c := *m
	c.Controllers = append([]core.ControllerID(nil), m.Controllers...)
	c.Relays = append([][]byte(nil), m.Relays...)
	return &c
}

func (m *Message) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Uint(1, uint64(m.Kind))
	e.Uint(2, uint64(m.Session))
	e.Uint(3, uint64(m.ConfigID))
	e.Uint(4, uint64(m.Mode))
	e.String(5, m.UnitName)
	e.String(6, string(m.Driver))
	e.RepeatedString(7, controllerStrings(m.Controllers))
	e.Uint(8, uint64(m.AuditType))
	e.Bool(9, m.Success)
	e.RepeatedBytes(10, m.Relays)
	return e.Bytes(), nil
}

func (m *Message) UnmarshalWire(b []byte) error {
	*m = Message{}
	return wire.Decode(b, func(f *wire.Field) error {
		switch f.Num {
		case 1:
			m.Kind = core.Notify(f.Uint())
		case 2:
			m.Session = core.SessionID(f.Uint())
		case 3:
			m.ConfigID = core.ConfigID(f.Uint())
		case 4:
			m.Mode = core.ConfigMode(f.Uint())
		case 5:
			m.UnitName = f.String()
		case 6:
			m.Driver = core.DriverType(f.String())
		case 7:
			m.Controllers = append(m.Controllers, core.ControllerID(f.String()))
		case 8:
			m.AuditType = core.AuditType(f.Uint())
		case 9:
			m.Success = f.Bool()
		case 10:
			m.Relays = append(m.Relays, f.Bytes())
		}
		return nil
	})
}

// DriverControllers is one entry of a topology service's membership report.
type DriverControllers struct {
	Driver      core.DriverType
	Controllers []core.ControllerID
}

func (d *DriverControllers) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.String(1, string(d.Driver))
	e.RepeatedString(2, controllerStrings(d.Controllers))
	return e.Bytes(), nil
}

func (d *DriverControllers) UnmarshalWire(b []byte) error {
	*d = DriverControllers{}
	return wire.Decode(b, func(f *wire.Field) error {
		switch f.Num {
		case 1:
			d.Driver = core.DriverType(f.String())
		case 2:
			d.Controllers = append(d.Controllers, core.ControllerID(f.String()))
		}
		return nil
	})
}

// Reply is a participant's answer. Raw is opaque to the coordinator and is
// relayed as-is.
type Reply struct {
	Result  core.RemoteResult
	Drivers []DriverControllers
	Dirty   bool
	Raw     []byte
}

func (r *Reply) OK() bool {
	return r != nil && r.Result == core.RemoteSuccess
}

func (r *Reply) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.Uint(1, uint64(r.Result))
	for i := range r.Drivers {
		if err := e.Message(2, &r.Drivers[i]); err != nil {
			return nil, err
		}
	}
	e.Bool(3, r.Dirty)
	e.BytesField(4, r.Raw)
	return e.Bytes(), nil
}

func (r *Reply) UnmarshalWire(b []byte) error {
	*r = Reply{}
	return wire.Decode(b, func(f *wire.Field) error {
		switch f.Num {
		case 1:
			r.Result = core.RemoteResult(f.Uint())
		case 2:
			var d DriverControllers
			if err := f.Message(&d); err != nil {
				return err
			}
			r.Drivers = append(r.Drivers, d)
		case 3:
			r.Dirty = f.Bool()
		case 4:
			r.Raw = f.Bytes()
		}
		return nil
	})
}

// DriverResult is the per-controller result the coordinator synthesizes when
// a driver is not deployed.
type DriverResult struct {
	Driver     core.DriverType
	Controller core.ControllerID
	Result     core.RemoteResult
}

func (d *DriverResult) MarshalWire() ([]byte, error) {
	var e wire.Encoder
	e.String(1, string(d.Driver))
	e.String(2, string(d.Controller))
	e.Uint(3, uint64(d.Result))
	return e.Bytes(), nil
}

func (d *DriverResult) UnmarshalWire(b []byte) error {
	*d = DriverResult{}
	return wire.Decode(b, func(f *wire.Field) error {
		switch f.Num {
		case 1:
			d.Driver = core.DriverType(f.String())
		case 2:
			d.Controller = core.ControllerID(f.String())
		case 3:
			d.Result = core.RemoteResult(f.Uint())
		}
		return nil
	})
}

func controllerStrings(ids []core.ControllerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
