// Package telemetry exports invocation metrics to Prometheus and sets up
// OpenTelemetry tracing for the engine.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rendis/actionkit/pkg/action"
)

const namespace = "actionkit"

// codeOK labels successful invocations, which carry no error code.
const codeOK = "OK"

// Collector is an action.Observer that records every settled invocation.
type Collector struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
}

var _ action.Observer = (*Collector)(nil)

// NewCollector registers the invocation metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		// invocations counts settled invocations by outcome
		invocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total action invocations by action name and result code",
			},
			[]string{"action", "code"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Wall-clock duration of action invocations, retries included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total re-invocations after a failed attempt by action name",
			},
			[]string{"action"},
		),
	}
}

// Observe implements action.Observer.
func (c *Collector) Observe(_ context.Context, rec action.Record) {
	code := rec.Code
	if code == "" {
		code = codeOK
	}
	c.invocations.WithLabelValues(rec.Action, code).Inc()
	c.duration.WithLabelValues(rec.Action).Observe(rec.Duration.Seconds())
	if n := rec.Retries(); n > 0 {
		c.retries.WithLabelValues(rec.Action).Add(float64(n))
	}
}
