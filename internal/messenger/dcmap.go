package messenger

import (
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/rpc"
)

// DriverControllerMap is the driver membership of one two-phase call as
// reported by the topology services. Drivers keep first-seen order and
// controllers are deduplicated, so merging the same reply twice is a no-op.
type DriverControllerMap struct {
	order       []core.DriverType
	controllers map[core.DriverType][]core.ControllerID
	seen        map[core.DriverType]map[core.ControllerID]struct{}
	reporters   map[core.DriverType][]core.Daemon
}

func NewDriverControllerMap() *DriverControllerMap {
	return &DriverControllerMap{
		controllers: make(map[core.DriverType][]core.ControllerID),
		seen:        make(map[core.DriverType]map[core.ControllerID]struct{}),
		reporters:   make(map[core.DriverType][]core.Daemon),
	}
}

// Merge adds the drivers reported by reporter.
func (m *DriverControllerMap) Merge(reporter core.Daemon, drivers []rpc.DriverControllers) {
	for _, dc := range drivers {
		seen, ok := m.seen[dc.Driver]
		if !ok {
			seen = make(map[core.ControllerID]struct{})
			m.seen[dc.Driver] = seen
			m.order = append(m.order, dc.Driver)
		}

		for _, c := range dc.Controllers {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			m.controllers[dc.Driver] = append(m.controllers[dc.Driver], c)
		}

		if !containsDaemon(m.reporters[dc.Driver], reporter) {
			m.reporters[dc.Driver] = append(m.reporters[dc.Driver], reporter)
		}
	}
}

func (m *DriverControllerMap) Drivers() []core.DriverType {
	return append([]core.DriverType(nil), m.order...)
}

func (m *DriverControllerMap) Controllers(d core.DriverType) []core.ControllerID {
	return append([]core.ControllerID(nil), m.controllers[d]...)
}

// Reporters lists the topology services that reported d.
func (m *DriverControllerMap) Reporters(d core.DriverType) []core.Daemon {
	return append([]core.Daemon(nil), m.reporters[d]...)
}

func (m *DriverControllerMap) Len() int {
	return len(m.order)
}

func containsDaemon(list []core.Daemon, d core.Daemon) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}
