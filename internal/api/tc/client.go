package tc

import (
	"context"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/wire"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn, which must use wire.Codec as its call codec.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Handle(ctx context.Context, req *core.Request) (*core.Response, error) {
	resp := new(wire.Response)
	err := c.conn.Invoke(ctx, MethodHandle, (*wire.Request)(req), resp, grpc.ForceCodec(wire.Codec{}))
	if err != nil {
		return nil, errors.Wrapf(err, "handle %s", req.Service)
	}
	return (*core.Response)(resp), nil
}
