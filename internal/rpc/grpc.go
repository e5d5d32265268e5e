package rpc

import (
	"context"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/wire"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	participantService = "txcoord.Participant"

	MethodNotify = "/" + participantService + "/Notify"
)

// ParticipantServer is implemented by daemons taking part in the notify protocol.
type ParticipantServer interface {
	Notify(ctx context.Context, msg *Message) (*Reply, error)
}

var participantServiceDesc = grpc.ServiceDesc{
	ServiceName: participantService,
	HandlerType: (*ParticipantServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Notify",
			Handler:    notifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "txcoord/participant",
}

func notifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ParticipantServer).Notify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodNotify,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ParticipantServer).Notify(ctx, req.(*Message))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterParticipant exposes p on s. The server must be created with
// grpc.ForceServerCodec(wire.Codec{}).
func RegisterParticipant(s grpc.ServiceRegistrar, p ParticipantServer) {
	s.RegisterService(&participantServiceDesc, p)
}

// GRPCCaller talks to participants over gRPC. Channel names are dial targets.
type GRPCCaller struct {
	conns *xsync.MapOf[string, *grpc.ClientConn]
	opts  []grpc.DialOption
}

func NewGRPCCaller(opts ...grpc.DialOption) *GRPCCaller {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	}
	return &GRPCCaller{
		conns: xsync.NewMapOf[string, *grpc.ClientConn](),
		opts:  append(defaults, opts...),
	}
}

func (c *GRPCCaller) conn(channel string) (*grpc.ClientConn, error) {
	if conn, ok := c.conns.Load(channel); ok {
		return conn, nil
	}

	var dialErr error
	conn, _ := c.conns.Compute(channel, func(old *grpc.ClientConn, loaded bool) (*grpc.ClientConn, bool) {
		if loaded {
			return old, false
		}
		conn, err := grpc.NewClient(channel, c.opts...)
		if err != nil {
			dialErr = err
			return nil, true // do not store
		}
		return conn, false
	})
	if dialErr != nil {
		return nil, errors.Wrapf(dialErr, "dial %s", channel)
	}
	return conn, nil
}

func (c *GRPCCaller) Call(ctx context.Context, channel string, msg *Message, timeout time.Duration) (*Reply, error) {
	conn, err := c.conn(channel)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply := new(Reply)
	err = conn.Invoke(ctx, MethodNotify, msg, reply)
	if err != nil {
		return nil, errors.Wrapf(err, "notify %s on %s", msg.Kind, channel)
	}
	return reply, nil
}

func (c *GRPCCaller) Open(_ context.Context, channel string, msg *Message) (PendingCall, error) {
	if _, err := c.conn(channel); err != nil {
		return nil, err
	}
	return NewPendingCall(c, channel, msg), nil
}

func (c *GRPCCaller) Close() error {
	errG := errgroup.Group{}

	c.conns.Range(func(channel string, conn *grpc.ClientConn) bool {
		errG.Go(func() error {
			err := conn.Close()
			if err != nil {
				logger.ErrorKV(context.Background(), "close participant conn", "error", err, "channel", channel)
			}
			return err
		})
		return true
	})
	c.conns.Clear()

	return errG.Wait()
}
