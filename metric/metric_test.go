package metric

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDispatch("Client", time.Now(), nil)
	m.ObserveDispatch("DataServer", time.Now(), stderrors.New("down"))
	m.ObserveDispatch("DataServer", time.Now(), stderrors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsSent.WithLabelValues("Client", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamsSent.WithLabelValues("DataServer", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("Client", time.Now(), nil)
	m.ObserveExecute(time.Now(), true)
	m.InterpreterError()
}

func TestObserveExecute(t *testing.T) {
	m := New(nil)
	m.ObserveExecute(time.Now(), false)
	m.ObserveExecute(time.Now(), true)
	m.InterpreterError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsExecuted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsExecuted.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InterpreterErrors))
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveExecute(time.Now(), false)

	srv := NewServer("127.0.0.1:0", reg)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())
	assert.Error(t, srv.Start(), "second start is rejected")

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `csrouter_server_streams_total{status="ok"} 1`)
}
