package pipeline

import (
	"sync"

	"github.com/escalopa/txcoord/internal/core"
)

// Notified keeps the last config id broadcast to participants and the last
// driver that triggered an audit.
type Notified struct {
	mu       sync.RWMutex
	configID core.ConfigID
	driver   core.DriverType
}

func (n *Notified) SetConfigID(id core.ConfigID) {
	n.mu.Lock()
	n.configID = id
	n.mu.Unlock()
}

func (n *Notified) SetDriver(d core.DriverType) {
	n.mu.Lock()
	n.driver = d
	n.mu.Unlock()
}

func (n *Notified) Get() (core.ConfigID, core.DriverType) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.configID, n.driver
}
