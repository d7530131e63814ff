/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package intercept

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GrpcInterceptor builds the server options shared by the daemon's gRPC endpoints
type GrpcInterceptor struct {
	log *zerolog.Logger
}

// NewGrpcInterceptor instantiates a new GrpcInterceptor struct
func NewGrpcInterceptor(log *zerolog.Logger) *GrpcInterceptor {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &GrpcInterceptor{
		log: log,
	}
}

// CreateGrpcOptions chains call logging in front of panic recovery
func (i *GrpcInterceptor) CreateGrpcOptions() []grpc.ServerOption {
	recoveryOpt := grpc_recovery.WithRecoveryHandler(i.recoverPanic)
	return []grpc.ServerOption{
		grpc_middleware.WithUnaryServerChain(
			i.unaryCallLogger,
			grpc_recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc_middleware.WithStreamServerChain(
			i.streamCallLogger,
			grpc_recovery.StreamServerInterceptor(recoveryOpt),
		),
	}
}

// recoverPanic turns a handler panic into an Internal status so one bad probe can't take the daemon down
func (i *GrpcInterceptor) recoverPanic(p interface{}) error {
	i.log.Error().Msgf("Recovered from panic in gRPC handler: %v", p)
	return status.Errorf(codes.Internal, "%v", p)
}

func (i *GrpcInterceptor) logCall(method string, start time.Time, err error) {
	code := status.Code(err)
	if err != nil {
		i.log.Error().Str("method", method).Str("code", code.String()).Msg(err.Error())
		return
	}
	i.log.Trace().Str("method", method).Dur("elapsed", time.Since(start)).Msg("gRPC call served")
}

func (i *GrpcInterceptor) unaryCallLogger(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	i.logCall(info.FullMethod, start, err)
	return resp, err
}

func (i *GrpcInterceptor) streamCallLogger(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	i.logCall(info.FullMethod, start, err)
	return err
}
