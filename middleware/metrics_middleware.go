package middleware

import (
	"context"
	"time"

	"cs-router/metric"
	"cs-router/stream"
)

// MetricsMiddleware counts executed streams and their duration.
func MetricsMiddleware(m *metric.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *stream.Stream) *stream.Stream {
			start := time.Now()
			result := next(ctx, s)
			_, failed := result.FirstError()
			m.ObserveExecute(start, failed)
			return result
		}
	}
}
