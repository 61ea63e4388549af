// Package telemetry holds the side-car's own metrics. They are registered
// on the same registry that is scraped and pushed, so the pipeline reports
// on itself through both paths.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "promsidecar"

// Push result label values.
const (
	ResultSuccess     = "success"
	ResultRejected    = "rejected"
	ResultTransport   = "transport"
	ResultEncode      = "encode"
	ResultCompression = "compression"
	ResultGather      = "gather"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
)

// Metrics exposes Prometheus metrics for the push pipeline, the relay
// and the HTTP servers.
type Metrics struct {
	// Push pipeline
	PushTotal             *prometheus.CounterVec // result
	PushDuration          prometheus.Histogram
	PushSeries            prometheus.Gauge
	PushBytes             prometheus.Gauge
	PushClientRecreations prometheus.Counter
	PushLastSuccess       prometheus.Gauge

	// Relay
	RelayRequests *prometheus.CounterVec // result
	RelaySeries   prometheus.Counter

	// HTTP servers
	HTTPRequestsTotal   *prometheus.CounterVec   // route, status
	HTTPRequestDuration *prometheus.HistogramVec // route, status
	HTTPInFlight        *prometheus.GaugeVec     // route
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_total",
				Help:      "Total remote-write push attempts by result.",
			},
			[]string{"result"},
		),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_duration_seconds",
			Help:      "Time to gather, encode and push one tick.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}, // 5ms-30s
		}),
		PushSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_series",
			Help:      "Number of series in the last encoded write request.",
		}),
		PushBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_bytes",
			Help:      "Compressed size of the last encoded write request.",
		}),
		PushClientRecreations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_client_recreations_total",
			Help:      "Total times the push HTTP client was replaced after a transport failure.",
		}),
		PushLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful push.",
		}),
		RelayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_requests_total",
				Help:      "Total relayed remote-write requests by result.",
			},
			[]string{"result"},
		),
		RelaySeries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_series_total",
			Help:      "Total series forwarded upstream by the relay.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and status code.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"route", "status"},
		),
		HTTPInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served by route.",
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.PushTotal,
		m.PushDuration,
		m.PushSeries,
		m.PushBytes,
		m.PushClientRecreations,
		m.PushLastSuccess,
	)

	reg.MustRegister(
		m.RelayRequests,
		m.RelaySeries,
	)

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPInFlight,
	)

	return m
}
