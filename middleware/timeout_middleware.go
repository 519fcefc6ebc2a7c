package middleware

import (
	"context"
	"time"

	"cs-router/stream"
)

// TimeOutMiddleware answers with an Error result when next takes longer than timeout.
// next sees a canceled context: a handler checking it between records leaves at most the
// record in progress running after the answer, and Shutdown does not wait for that record.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *stream.Stream) *stream.Stream {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *stream.Stream, 1)
			go func() {
				done <- next(ctx, s)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				return errorResult("request timed out")
			}
		}
	}
}
