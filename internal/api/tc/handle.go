package tc

import (
	"context"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
	"github.com/pkg/errors"
)

func (i *Implementation) Handle(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if req.Service == core.ServiceUnknown {
		return nil, core.ToGrpcError(errors.Wrap(core.ErrUnknownService, "missing service id"))
	}

	resp := i.srv.Handle(ctx, (*core.Request)(req))
	if err := ctx.Err(); err != nil {
		return nil, core.ToGrpcError(err)
	}
	return (*wire.Response)(resp), nil
}
