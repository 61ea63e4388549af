package telemetry

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request count, latency and in-flight requests for
// every request passing through next. The route label is the request
// path, so it must only wrap handlers with a fixed set of paths.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := req.URL.Path
		start := time.Now()

		inFlight := m.HTTPInFlight.WithLabelValues(route)
		inFlight.Inc()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		inFlight.Dec()

		status := strconv.Itoa(rec.status)

		m.HTTPRequestDuration.WithLabelValues(route, status).
			Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	})
}
