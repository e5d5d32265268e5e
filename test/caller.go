package test

import (
	"context"
	"sync"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/rpc"
)

// Handler scripts the answer of one fake participant.
type Handler func(msg *rpc.Message) (*rpc.Reply, error)

// Sent is one message delivered to a fake participant.
type Sent struct {
	Channel string
	Msg     *rpc.Message
}

// FakeCaller is an in-process rpc.Caller. Channels without a handler answer
// with success.
type FakeCaller struct {
	mu       sync.Mutex
	handlers map[string]Handler
	sent     []Sent
}

func NewFakeCaller() *FakeCaller {
	return &FakeCaller{handlers: make(map[string]Handler)}
}

func (f *FakeCaller) Handle(channel string, h Handler) *FakeCaller {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = h
	return f
}

func (f *FakeCaller) Call(_ context.Context, channel string, msg *rpc.Message, _ time.Duration) (*rpc.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, Sent{Channel: channel, Msg: msg.Clone()})
	h := f.handlers[channel]
	f.mu.Unlock()

	if h == nil {
		return Ok(), nil
	}
	return h(msg)
}

func (f *FakeCaller) Open(_ context.Context, channel string, msg *rpc.Message) (rpc.PendingCall, error) {
	return rpc.NewPendingCall(f, channel, msg), nil
}

func (f *FakeCaller) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Recipients lists, in delivery order, the channels that received kind.
func (f *FakeCaller) Recipients(kind core.Notify) []string {
	var out []string
	for _, s := range f.Sent() {
		if s.Msg.Kind == kind {
			out = append(out, s.Channel)
		}
	}
	return out
}

// Received lists the messages delivered to channel.
func (f *FakeCaller) Received(channel string) []*rpc.Message {
	var out []*rpc.Message
	for _, s := range f.Sent() {
		if s.Channel == channel {
			out = append(out, s.Msg)
		}
	}
	return out
}

func Ok() *rpc.Reply {
	return &rpc.Reply{Result: core.RemoteSuccess}
}

func Fail() *rpc.Reply {
	return &rpc.Reply{Result: core.RemoteFailure}
}

// Reply answers every message with r.
func Reply(r *rpc.Reply) Handler {
	return func(*rpc.Message) (*rpc.Reply, error) {
		return r, nil
	}
}

// ByKind answers kinds found in replies and succeeds otherwise.
func ByKind(replies map[core.Notify]*rpc.Reply) Handler {
	return func(msg *rpc.Message) (*rpc.Reply, error) {
		if r, ok := replies[msg.Kind]; ok {
			return r, nil
		}
		return Ok(), nil
	}
}
