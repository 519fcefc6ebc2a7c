package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"cs-router/stream"
)

// RateLimitMiddleware rejects streams beyond r per second (token bucket of size burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *stream.Stream) *stream.Stream {
			if !limiter.Allow() {
				return errorResult("rate limit exceeded")
			}
			return next(ctx, s)
		}
	}
}
