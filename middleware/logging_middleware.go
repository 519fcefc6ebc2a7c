package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cs-router/stream"
)

// LoggingMiddleware logs every executed stream with its duration, and the error
// message when the result is an Error.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *stream.Stream) *stream.Stream {
			start := time.Now()
			result := next(ctx, s)
			fields := []zap.Field{
				zap.Int("records", s.Len()),
				zap.Duration("duration", time.Since(start)),
			}
			if msg, ok := result.FirstError(); ok {
				logger.Warn("stream failed", append(fields, zap.String("error", msg))...)
			} else {
				logger.Debug("stream executed", fields...)
			}
			return result
		}
	}
}
