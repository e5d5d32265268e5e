package core

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrStoreClosed    = fmt.Errorf("store closed")
	ErrNoChannel      = fmt.Errorf("no channel for daemon")
	ErrInvalidRequest = fmt.Errorf("invalid request")
	ErrNotActive      = fmt.Errorf("coordinator not active")
	ErrUnknownService = fmt.Errorf("unknown service")
)

func ToGrpcError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnknownService):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, ErrNotActive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoChannel), errors.Is(err, ErrStoreClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
