package tc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type coordinatorStub struct {
	mu       sync.Mutex
	received []*core.Request
	answer   func(req *core.Request) *core.Response
}

func (c *coordinatorStub) Handle(_ context.Context, req *core.Request) *core.Response {
	c.mu.Lock()
	c.received = append(c.received, req)
	c.mu.Unlock()
	return c.answer(req)
}

func newBufClient(t *testing.T, srv Coordinator) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(ServerOptions()...)
	NewCoordinator(srv).Register(s)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func TestImplementation_Handle(t *testing.T) {
	t.Parallel()

	stub := &coordinatorStub{
		answer: func(req *core.Request) *core.Response {
			return &core.Response{
				Service:  req.Service,
				Code:     core.Success,
				ConfigID: 42,
				Mode:     req.Mode,
				UnitName: req.UnitName,
			}
		},
	}
	client := newBufClient(t, stub)

	resp, err := client.Handle(context.Background(), &core.Request{
		Service:  core.ServiceAcquireConfigPartial,
		Session:  7,
		Mode:     core.ConfigUnit,
		UnitName: "vtn1",
	})
	require.NoError(t, err)
	require.Equal(t, core.ServiceAcquireConfigPartial, resp.Service)
	require.Equal(t, core.Success, resp.Code)
	require.Equal(t, core.ConfigID(42), resp.ConfigID)
	require.Equal(t, "vtn1", resp.UnitName)

	require.Len(t, stub.received, 1)
	require.Equal(t, core.SessionID(7), stub.received[0].Session)
	require.Equal(t, core.ConfigUnit, stub.received[0].Mode)
}

func TestImplementation_ResultCodesAreNotErrors(t *testing.T) {
	t.Parallel()

	client := newBufClient(t, &coordinatorStub{
		answer: func(req *core.Request) *core.Response {
			return &core.Response{Service: req.Service, Code: core.Busy}
		},
	})

	resp, err := client.Handle(context.Background(), &core.Request{Service: core.ServiceCommit, Session: 1})
	require.NoError(t, err)
	require.Equal(t, core.Busy, resp.Code)
}

func TestImplementation_MissingService(t *testing.T) {
	t.Parallel()

	stub := &coordinatorStub{
		answer: func(*core.Request) *core.Response {
			return &core.Response{}
		},
	}
	client := newBufClient(t, stub)

	_, err := client.Handle(context.Background(), &core.Request{Session: 1})
	require.Error(t, err)
	require.Equal(t, codes.Unimplemented, status.Code(errors.Cause(err)))
	require.Empty(t, stub.received)
}

func TestImplementation_RecoversPanic(t *testing.T) {
	t.Parallel()

	client := newBufClient(t, &coordinatorStub{
		answer: func(*core.Request) *core.Response {
			panic("boom")
		},
	})

	_, err := client.Handle(context.Background(), &core.Request{Service: core.ServiceCommit, Session: 1})
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(errors.Cause(err)))

	// the server keeps serving
	_, err = client.Handle(context.Background(), &core.Request{Service: core.ServiceCommit, Session: 1})
	require.Error(t, err)
}
