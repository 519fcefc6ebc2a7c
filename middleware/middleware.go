// Package middleware wraps the server's stream handler.
//
// Chain(A, B, C)(h) builds A(B(C(h))): A sees the stream first and the result last.
package middleware

import (
	"context"

	"cs-router/stream"
)

// HandlerFunc executes a stream and returns its result stream.
type HandlerFunc func(ctx context.Context, s *stream.Stream) *stream.Stream

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, first argument outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// errorResult builds a single-record result carrying msg.
func errorResult(msg string) *stream.Stream {
	s := &stream.Stream{}
	s.Error(msg)
	return s
}
