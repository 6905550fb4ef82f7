package tools

import (
	"context"
	"log/slog"
	"time"
)

// LogCalls returns middleware that logs every tool call at debug level and
// failures at warn level.
func LogCalls(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name string, next Func) Func {
		return func(ctx context.Context, input any) (any, error) {
			start := time.Now()
			out, err := next(ctx, input)
			if err != nil {
				logger.Warn("tool call failed", "tool", name, "duration", time.Since(start), "error", err)
				return out, err
			}
			logger.Debug("tool call", "tool", name, "duration", time.Since(start))
			return out, nil
		}
	}
}

// Timeout returns middleware that bounds each tool call.
func Timeout(d time.Duration) Middleware {
	return func(_ string, next Func) Func {
		return func(ctx context.Context, input any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, input)
		}
	}
}
