package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cs-router/message"
	"cs-router/metric"
	"cs-router/stream"
)

func okResult() *stream.Stream {
	s := &stream.Stream{}
	s.Reply(message.String("ok"))
	return s
}

func echoHandler(ctx context.Context, s *stream.Stream) *stream.Stream {
	return okResult()
}

func slowHandler(ctx context.Context, s *stream.Stream) *stream.Stream {
	time.Sleep(200 * time.Millisecond)
	return okResult()
}

func failingHandler(ctx context.Context, s *stream.Stream) *stream.Stream {
	return errorResult("bad argument")
}

func request() *stream.Stream {
	s := &stream.Stream{}
	s.Invoke(5, "Foo")
	return s
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), request())
	require.NotNil(t, resp)
	_, failed := resp.FirstError()
	assert.False(t, failed)
	assert.Equal(t, 1, logs.FilterMessage("stream executed").Len())

	LoggingMiddleware(zap.New(core))(failingHandler)(context.Background(), request())
	failures := logs.FilterMessage("stream failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad argument", failures[0].ContextMap()["error"])
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	_, failed := handler(context.Background(), request()).FirstError()
	assert.False(t, failed)
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	msg, failed := handler(context.Background(), request()).FirstError()
	assert.True(t, failed)
	assert.Equal(t, "request timed out", msg)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		_, failed := handler(context.Background(), request()).FirstError()
		require.False(t, failed, "request %d should pass", i)
	}

	msg, failed := handler(context.Background(), request()).FirstError()
	assert.True(t, failed)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestMetrics(t *testing.T) {
	m := metric.New(nil)
	MetricsMiddleware(m)(echoHandler)(context.Background(), request())
	MetricsMiddleware(m)(failingHandler)(context.Background(), request())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsExecuted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsExecuted.WithLabelValues("error")))
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, s *stream.Stream) *stream.Stream {
				order = append(order, name)
				return next(ctx, s)
			}
		}
	}

	handler := Chain(mark("a"), LoggingMiddleware(zap.NewNop()), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), request())

	require.NotNil(t, resp)
	_, failed := resp.FirstError()
	assert.False(t, failed)
	assert.Equal(t, []string{"a", "b"}, order)
}
