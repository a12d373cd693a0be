package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloesce/cloesce"
)

// LoggingInterceptor creates an interceptor that logs API calls using slog.
// It logs the start and end of each call, including duration and error status.
func LoggingInterceptor(logger *slog.Logger) cloesce.Interceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, call *cloesce.Call, next cloesce.HandlerFunc) (any, error) {
		start := time.Now()
		attrs := []any{slog.String("endpoint", call.Endpoint())}
		if len(call.Keys) > 0 {
			attrs = append(attrs, slog.Any("keys", call.Keys))
		}
		if id := RequestIDFromContext(ctx); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}

		logger.InfoContext(ctx, "request started", attrs...)

		res, err := next(ctx, call)
		attrs = append(attrs, slog.Duration("duration", time.Since(start)))

		if err != nil {
			logger.ErrorContext(ctx, "request failed", append(attrs, slog.Any("error", err))...)
		} else {
			logger.InfoContext(ctx, "request completed", attrs...)
		}

		return res, err
	}
}
