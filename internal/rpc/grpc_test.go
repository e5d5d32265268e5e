package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type participantStub struct {
	mu       sync.Mutex
	received []*Message
	reply    func(msg *Message) *Reply
}

func (p *participantStub) Notify(_ context.Context, msg *Message) (*Reply, error) {
	p.mu.Lock()
	p.received = append(p.received, msg)
	p.mu.Unlock()
	return p.reply(msg), nil
}

func newBufServer(t *testing.T, p ParticipantServer) *GRPCCaller {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(wire.Codec{}))
	RegisterParticipant(srv, p)

	go func() {
		_ = srv.Serve(lis)
	}()

	caller := NewGRPCCaller(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))

	t.Cleanup(func() {
		require.NoError(t, caller.Close())
		srv.Stop()
	})

	return caller
}

func TestGRPCCaller_Call(t *testing.T) {
	t.Parallel()

	stub := &participantStub{
		reply: func(msg *Message) *Reply {
			return &Reply{
				Result: core.RemoteSuccess,
				Drivers: []DriverControllers{
					{Driver: core.DriverPFC, Controllers: []core.ControllerID{"c1", "c2"}},
					{Driver: core.DriverODC, Controllers: []core.ControllerID{"c3"}},
				},
				Raw: []byte("raw-" + msg.Kind.String()),
			}
		},
	}
	caller := newBufServer(t, stub)

	reply, err := caller.Call(context.Background(), "passthrough:///logical", &Message{
		Kind:     core.NotifyCommitVote,
		Session:  7,
		ConfigID: 3,
	}, time.Second)
	require.NoError(t, err)
	require.True(t, reply.OK())
	require.Len(t, reply.Drivers, 2)
	require.Equal(t, []core.ControllerID{"c1", "c2"}, reply.Drivers[0].Controllers)
	require.Equal(t, []byte("raw-commit_vote"), reply.Raw)

	require.Len(t, stub.received, 1)
	require.Equal(t, core.SessionID(7), stub.received[0].Session)
}

func TestGRPCCaller_OpenRelaysPayloads(t *testing.T) {
	t.Parallel()

	stub := &participantStub{
		reply: func(*Message) *Reply { return &Reply{Result: core.RemoteSuccess} },
	}
	caller := newBufServer(t, stub)

	ctx := context.Background()

	pending, err := caller.Open(ctx, "passthrough:///physical", &Message{Kind: core.NotifyCommitDriverResult})
	require.NoError(t, err)
	defer func() { require.NoError(t, pending.Close()) }()

	pending.Relay([]byte{0x01, 0x02})
	pending.Relay([]byte{})
	pending.Relay([]byte("driver-reply"))

	reply, err := pending.Invoke(ctx, 0)
	require.NoError(t, err)
	require.True(t, reply.OK())

	require.Len(t, stub.received, 1)
	require.Equal(t, [][]byte{{0x01, 0x02}, {}, []byte("driver-reply")}, stub.received[0].Relays)
}

func TestDriverResult_Wire(t *testing.T) {
	t.Parallel()

	in := &DriverResult{Driver: core.DriverVNP, Controller: "c9", Result: core.RemoteDriverNotPresent}
	b, err := in.MarshalWire()
	require.NoError(t, err)

	var out DriverResult
	require.NoError(t, out.UnmarshalWire(b))
	require.Equal(t, *in, out)
}

func TestChannels(t *testing.T) {
	t.Parallel()

	channels := Channels{
		core.DaemonLogical:      "logical:9000",
		core.DriverODC.Daemon(): "odc:9000",
		core.DriverPFC.Daemon(): "pfc:9000",
		core.DaemonPhysical:     "physical:9000",
	}

	require.Equal(t, "logical:9000", channels.ChannelFor(core.DaemonLogical))
	require.Equal(t, "", channels.ChannelFor(core.DriverVNP.Daemon()))
	require.Equal(t, []core.DriverType{core.DriverPFC, core.DriverODC}, channels.Drivers())
}
