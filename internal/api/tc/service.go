package tc

import (
	"context"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
	"google.golang.org/grpc"
)

const (
	serviceName = "txcoord.Coordinator"

	MethodHandle = "/" + serviceName + "/Handle"
)

type Coordinator interface {
	Handle(ctx context.Context, req *core.Request) *core.Response
}

// CoordinatorServer is the client-facing surface of the coordinator.
type CoordinatorServer interface {
	Handle(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Handle",
			Handler:    handleHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "txcoord/coordinator",
}

func handleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodHandle,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).Handle(ctx, req.(*wire.Request))
	}
	return interceptor(ctx, in, info, handler)
}

type Implementation struct {
	srv Coordinator
}

func NewCoordinator(srv Coordinator) *Implementation {
	return &Implementation{srv: srv}
}

// Register exposes i on s. The server must be created with
// grpc.ForceServerCodec(wire.Codec{}).
func (i *Implementation) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, i)
}
