package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// topology is the fixed notify order of the topology services.
var topology = []core.Daemon{core.DaemonLogical, core.DaemonPhysical}

type broadcast struct {
	withDrivers bool
	// untimed broadcasts may legitimately run long on the participants
	untimed bool
}

var broadcasts = map[core.Notify]broadcast{
	core.NotifySetup:           {withDrivers: true},
	core.NotifySetupComplete:   {withDrivers: true},
	core.NotifyConfigID:        {},
	core.NotifySaveStartup:     {untimed: true},
	core.NotifyClearStartup:    {untimed: true},
	core.NotifyAutosaveEnable:  {},
	core.NotifyAutosaveDisable: {},
	core.NotifyAuditDB:         {untimed: true},
	core.NotifyAbortCandidate:  {},
}

// Messenger runs the notify protocol against the participant daemons. It
// keeps no per-call state; audit progress lives in AuditState.
type Messenger struct {
	caller   rpc.Caller
	channels rpc.Channels
	audit    *AuditState
	timeout  time.Duration
}

func New(caller rpc.Caller, channels rpc.Channels, audit *AuditState, timeout time.Duration) *Messenger {
	return &Messenger{
		caller:   caller,
		channels: channels,
		audit:    audit,
		timeout:  timeout,
	}
}

func (m *Messenger) Audit() *AuditState {
	return m.audit
}

// Broadcast sends a simple notification to its recipients in order and stops
// at the first one that does not succeed. Topology services are mandatory,
// drivers that are not deployed are skipped.
func (m *Messenger) Broadcast(ctx context.Context, msg *rpc.Message) Result {
	b, ok := broadcasts[msg.Kind]
	if !ok {
		logger.ErrorKV(ctx, "broadcast unknown kind", "kind", msg.Kind)
		return Abort
	}

	timeout := m.timeout
	if b.untimed {
		timeout = 0
	}

	for _, d := range topology {
		channel := m.channels.ChannelFor(d)
		if channel == "" {
			logger.ErrorKV(ctx, "broadcast", "error", errors.Wrap(core.ErrNoChannel, string(d)), "kind", msg.Kind)
			return Abort
		}
		if res := m.send(ctx, d, channel, msg, timeout); res != Success {
			return res
		}
	}

	if !b.withDrivers {
		return Success
	}

	for _, drv := range core.KnownDrivers {
		channel := m.channels.ChannelFor(drv.Daemon())
		if channel == "" {
			continue
		}
		if res := m.send(ctx, drv.Daemon(), channel, msg, timeout); res != Success {
			return res
		}
	}
	return Success
}

// CandidateDirty asks both topology services in parallel whether the
// candidate database holds uncommitted changes.
func (m *Messenger) CandidateDirty(ctx context.Context, base *rpc.Message) (bool, Result) {
	msg := base.Clone()
	msg.Kind = core.NotifyCandidateDirty

	var (
		mu     sync.Mutex
		dirty  bool
		result = Success
	)

	for _, d := range topology {
		if m.channels.ChannelFor(d) == "" {
			logger.ErrorKV(ctx, "candidate dirty", "error", errors.Wrap(core.ErrNoChannel, string(d)))
			return false, Abort
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, d := range topology {
		channel := m.channels.ChannelFor(d)
		eg.Go(func() error {
			reply, err := m.caller.Call(egCtx, channel, msg, m.timeout)
			if err != nil {
				return errors.Wrapf(err, "candidate dirty %s", d)
			}

			mu.Lock()
			defer mu.Unlock()
			if !reply.OK() {
				result = worse(result, Abort)
				return nil
			}
			dirty = dirty || reply.Dirty
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logger.ErrorKV(ctx, "candidate dirty", "error", err)
		return false, Fatal
	}
	return dirty, result
}

// send delivers msg to one daemon and classifies the outcome.
func (m *Messenger) send(ctx context.Context, d core.Daemon, channel string, msg *rpc.Message, timeout time.Duration) Result {
	reply, err := m.caller.Call(ctx, channel, msg, timeout)
	if err != nil {
		logger.ErrorKV(ctx, "notify participant", "error", err, "daemon", d, "kind", msg.Kind)
		return Fatal
	}
	if !reply.OK() {
		logger.WarnKV(ctx, "participant refused", "daemon", d, "kind", msg.Kind, "result", reply.Result)
		return Abort
	}
	return Success
}

// compensate sends kind with a failure outcome to done in reverse order.
// Errors are logged, every recipient is attempted.
func (m *Messenger) compensate(ctx context.Context, base *rpc.Message, kind core.Notify, done []core.Daemon) Result {
	msg := base.Clone()
	msg.Kind = kind
	msg.Success = false

	result := Success
	for i := len(done) - 1; i >= 0; i-- {
		d := done[i]
		channel := m.channels.ChannelFor(d)
		if channel == "" {
			continue
		}

		metrics.Compensations.WithLabelValues(kind.String()).Inc()
		result = worse(result, m.send(ctx, d, channel, targeted(msg, d), m.timeout))
	}
	return result
}

// targeted addresses msg to a driver daemon by setting its driver type.
func targeted(msg *rpc.Message, d core.Daemon) *rpc.Message {
	if d.IsTopology() || msg.Driver == core.DriverType(d) {
		return msg
	}
	c := msg.Clone()
	c.Driver = core.DriverType(d)
	return c
}
