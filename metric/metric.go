// Package metric holds the prometheus metrics of the routing layer.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers dispatch on the sending side and execution on the server side.
type Metrics struct {
	StreamsSent       *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	InterpreterErrors prometheus.Counter
	StreamsExecuted   *prometheus.CounterVec
	ExecuteDuration   prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csrouter",
				Subsystem: "dispatch",
				Name:      "streams_total",
				Help:      "Streams handed to a destination transport",
			},
			[]string{"destination", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "csrouter",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent in a destination transport",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"destination"},
		),
		InterpreterErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "csrouter",
				Subsystem: "interpreter",
				Name:      "errors_total",
				Help:      "Records whose local execution produced an Error result",
			},
		),
		StreamsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csrouter",
				Subsystem: "server",
				Name:      "streams_total",
				Help:      "Streams executed on behalf of remote senders",
			},
			[]string{"status"},
		),
		ExecuteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "csrouter",
				Subsystem: "server",
				Name:      "duration_seconds",
				Help:      "Stream execution time on the server",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.StreamsSent, m.DispatchDuration, m.InterpreterErrors, m.StreamsExecuted, m.ExecuteDuration)
	}
	return m
}

// ObserveDispatch records one transport action. Safe on a nil receiver.
func (m *Metrics) ObserveDispatch(destination string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StreamsSent.WithLabelValues(destination, status(err)).Inc()
	m.DispatchDuration.WithLabelValues(destination).Observe(time.Since(start).Seconds())
}

// ObserveExecute records one server-side stream execution. Safe on a nil receiver.
func (m *Metrics) ObserveExecute(start time.Time, failed bool) {
	if m == nil {
		return
	}
	s := "ok"
	if failed {
		s = "error"
	}
	m.StreamsExecuted.WithLabelValues(s).Inc()
	m.ExecuteDuration.Observe(time.Since(start).Seconds())
}

// InterpreterError counts one local Error result. Safe on a nil receiver.
func (m *Metrics) InterpreterError() {
	if m == nil {
		return
	}
	m.InterpreterErrors.Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
