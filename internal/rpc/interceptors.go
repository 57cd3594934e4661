package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ipwis/kernel/internal/logging"
)

// loggingInterceptor logs every unary RPC's method, duration, and
// outcome. Grounded on the teacher's internal/grpc/interceptors.go.
func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	logging.Op().Info("rpc request started", "method", info.FullMethod)

	resp, err := handler(ctx, req)

	duration := time.Since(start)
	if err != nil {
		logging.Op().Error("rpc request failed", "method", info.FullMethod, "duration", duration, "error", err)
	} else {
		logging.Op().Info("rpc request completed", "method", info.FullMethod, "duration", duration)
	}
	return resp, err
}

// errorHandlingInterceptor ensures every handler error reaches the
// client as a status.Status rather than an opaque error value; Server's
// methods already wrap their errors with status.Error, so this is a
// backstop for anything that slips through unwrapped.
func errorHandlingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		if _, ok := status.FromError(err); !ok {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return nil, err
	}
	return resp, nil
}

// chainUnaryInterceptors composes interceptors into one, innermost last,
// so loggingInterceptor observes the final outcome after
// errorHandlingInterceptor has run.
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chained := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current := interceptors[i]
			next := chained
			chained = func(ctx context.Context, req interface{}) (interface{}, error) {
				return current(ctx, req, info, next)
			}
		}
		return chained(ctx, req)
	}
}
