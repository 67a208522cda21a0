package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// Logger is the subset of logging.Logger the interceptors need.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// LOGGING
// =============================================================================

// LoggingInterceptor logs each unary call. Failures log at error with the status code.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, "grpc_request", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// StreamLoggingInterceptor is LoggingInterceptor for streams.
func StreamLoggingInterceptor(logger Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, "grpc_stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

func logCall(logger Logger, prefix, method string, d time.Duration, err error) {
	if err != nil {
		logger.Error(prefix+"_failed",
			"method", method,
			"duration_ms", d.Milliseconds(),
			"code", status.Code(err).String(),
			"error", err.Error(),
		)
		return
	}
	logger.Debug(prefix+"_completed",
		"method", method,
		"duration_ms", d.Milliseconds(),
	)
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoveryHandler converts a recovered panic value into the returned error.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns codes.Internal carrying the panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor turns a handler panic into an error and logs the stack.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				resp, err = nil, handler(p)
			}
		}()
		return next(ctx, req)
	}
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streams.
func StreamRecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_stream_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				err = handler(p)
			}
		}()
		return next(srv, ss)
	}
}

// =============================================================================
// METRICS
// =============================================================================

// MetricsInterceptor records request count and latency per method and status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// =============================================================================
// SERVER OPTIONS
// =============================================================================

// ServerOptions returns the standard option set: OpenTelemetry stats handler,
// then recovery, metrics and logging interceptors, outermost first.
func ServerOptions(logger Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger, nil),
			MetricsInterceptor(),
			LoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(logger, nil),
			StreamLoggingInterceptor(logger),
		),
	}
}
