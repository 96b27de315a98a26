package backupservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
)

// LoggingInterceptor logs all RPC requests and responses.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor. Lines carry
// the request ID of the call context.
func NewLoggingInterceptor(log *slog.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{logger: logger.WithContextIDs(log)}
}

// WrapUnary implements connect.Interceptor.
func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()

		resp, err := next(ctx, req)

		duration := time.Since(start)
		if err != nil {
			i.logger.WarnContext(ctx, "backup rpc error",
				"method", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", duration.Milliseconds(),
				"code", connect.CodeOf(err).String(),
				"error", err)
		} else {
			i.logger.DebugContext(ctx, "backup rpc completed",
				"method", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", duration.Milliseconds())
		}

		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No-op for server-side
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()

		i.logger.DebugContext(ctx, "backup rpc stream started",
			"method", conn.Spec().Procedure,
			"peer", conn.Peer().Addr)

		err := next(ctx, conn)

		duration := time.Since(start)
		if err != nil {
			i.logger.WarnContext(ctx, "backup rpc stream error",
				"method", conn.Spec().Procedure,
				"duration_ms", duration.Milliseconds(),
				"code", connect.CodeOf(err).String(),
				"error", err)
		} else {
			i.logger.DebugContext(ctx, "backup rpc stream completed",
				"method", conn.Spec().Procedure,
				"duration_ms", duration.Milliseconds())
		}

		return err
	}
}

// MetricsInterceptor counts requests by procedure and result code.
type MetricsInterceptor struct {
	metrics *metric.Registry
}

// NewMetricsInterceptor creates a new metrics interceptor.
func NewMetricsInterceptor(r *metric.Registry) *MetricsInterceptor {
	if r == nil {
		r = metric.Global()
	}
	return &MetricsInterceptor{metrics: r}
}

// WrapUnary implements connect.Interceptor.
func (i *MetricsInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		i.metrics.RecordRequest(req.Spec().Procedure, resultCode(err), time.Since(start))
		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *MetricsInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *MetricsInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		err := next(ctx, conn)
		i.metrics.RecordRequest(conn.Spec().Procedure, resultCode(err), time.Since(start))
		return err
	}
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	return connect.CodeOf(err).String()
}

// RecoveryInterceptor recovers from panics.
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor.
func NewRecoveryInterceptor(log *slog.Logger) *RecoveryInterceptor {
	return &RecoveryInterceptor{logger: logger.WithContextIDs(log)}
}

// WrapUnary implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.ErrorContext(ctx, "backup rpc panic recovered",
					"method", req.Spec().Procedure,
					"panic", r)

				err = connect.NewError(connect.CodeInternal,
					fmt.Errorf("internal server error: panic recovered"))
			}
		}()

		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No-op for server-side
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) (err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.ErrorContext(ctx, "backup rpc stream panic recovered",
					"method", conn.Spec().Procedure,
					"panic", r)

				err = connect.NewError(connect.CodeInternal,
					fmt.Errorf("internal server error: panic recovered"))
			}
		}()

		return next(ctx, conn)
	}
}

// DefaultInterceptors returns the interceptors installed on every
// procedure. Metrics wrap recovery so a recovered panic counts as internal.
func DefaultInterceptors(log *slog.Logger, r *metric.Registry) []connect.Interceptor {
	return []connect.Interceptor{
		NewMetricsInterceptor(r),
		NewRecoveryInterceptor(log),
		NewLoggingInterceptor(log),
	}
}
