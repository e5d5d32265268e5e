package rpc

import (
	"context"
	"time"

	"github.com/escalopa/txcoord/internal/core"
)

type (
	// Caller performs blocking round trips to participant daemons.
	Caller interface {
		// Call sends msg on channel and waits for the reply. A zero timeout
		// disables the deadline. A returned error is a transport failure.
		Call(ctx context.Context, channel string, msg *Message, timeout time.Duration) (*Reply, error)

		// Open prepares a call whose payload can be extended with relayed
		// bytes before it is invoked.
		Open(ctx context.Context, channel string, msg *Message) (PendingCall, error)
	}

	// PendingCall is an open call toward a participant.
	PendingCall interface {
		// Relay appends an opaque payload to the outbound message.
		Relay(raw []byte)
		Invoke(ctx context.Context, timeout time.Duration) (*Reply, error)
		Close() error
	}
)

// Channels maps each deployed daemon to its channel name.
type Channels map[core.Daemon]string

// ChannelFor returns "" when the daemon is not deployed.
func (c Channels) ChannelFor(d core.Daemon) string {
	return c[d]
}

// Drivers returns the deployed drivers in protocol order.
func (c Channels) Drivers() []core.DriverType {
	drivers := make([]core.DriverType, 0, len(core.KnownDrivers))
	for _, d := range core.KnownDrivers {
		if c.ChannelFor(d.Daemon()) != "" {
			drivers = append(drivers, d)
		}
	}
	return drivers
}

// pendingCall is the Caller-agnostic PendingCall: relays accumulate locally and
// the whole message is sent on Invoke.
type pendingCall struct {
	caller  Caller
	channel string
	msg     *Message
}

func NewPendingCall(caller Caller, channel string, msg *Message) PendingCall {
	return &pendingCall{caller: caller, channel: channel, msg: msg.Clone()}
}

func (p *pendingCall) Relay(raw []byte) {
	p.msg.Relays = append(p.msg.Relays, append([]byte{}, raw...))
}

func (p *pendingCall) Invoke(ctx context.Context, timeout time.Duration) (*Reply, error) {
	return p.caller.Call(ctx, p.channel, p.msg, timeout)
}

func (p *pendingCall) Close() error {
	p.msg.Relays = nil
	return nil
}
