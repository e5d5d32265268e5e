package tc

import (
	"context"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// ServerOptions is the option set every coordinator gRPC server is built with.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandlerContext(recoverPanic)),
			logCall,
		)),
	}
}

func recoverPanic(ctx context.Context, p interface{}) error {
	logger.ErrorKV(ctx, "panic in grpc handler", "panic", p)
	return core.ToGrpcError(errors.Errorf("panic: %v", p))
}

func logCall(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)
	if err != nil {
		logger.WarnKV(ctx, "grpc call failed", "method", info.FullMethod, "error", err, "duration", time.Since(start))
		return resp, err
	}

	if r, ok := resp.(*wire.Response); ok && r.Code != core.Success {
		logger.InfoKV(ctx, "grpc call", "method", info.FullMethod, "service", r.Service, "code", r.Code, "duration", time.Since(start))
	}
	return resp, nil
}
