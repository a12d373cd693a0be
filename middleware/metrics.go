package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloesce/cloesce"
)

// Metrics holds the Prometheus collectors of API calls.
type Metrics struct {
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	CallsInFlight prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry registers the collectors with reg. Metrics.Handler
// serves g.
func NewMetricsWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloesce",
				Name:      "calls_total",
				Help:      "Total number of API calls by endpoint and result code",
			},
			[]string{"endpoint", "code"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloesce",
				Name:      "call_duration_seconds",
				Help:      "API call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		CallsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cloesce",
				Name:      "calls_in_flight",
				Help:      "Number of API calls currently being handled",
			},
		),
		gatherer: g,
	}
}

// Interceptor records every call it wraps. The code label is "ok" on
// success, else the error code the call fails with.
func (m *Metrics) Interceptor() cloesce.Interceptor {
	return func(ctx context.Context, call *cloesce.Call, next cloesce.HandlerFunc) (any, error) {
		m.CallsInFlight.Inc()
		defer m.CallsInFlight.Dec()

		start := time.Now()
		res, err := next(ctx, call)
		endpoint := call.Endpoint()
		m.CallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		code := "ok"
		if err != nil {
			code = string(cloesce.DefaultErrorTransformer(err).Code)
		}
		m.CallsTotal.WithLabelValues(endpoint, code).Inc()
		return res, err
	}
}

// Handler serves the gathered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
