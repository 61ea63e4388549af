// Package scrape serves the registry for pull-based collection.
package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/promsidecar/internal/telemetry"
)

// MetricsRoute is the path the registry is exposed on.
const MetricsRoute = "/metrics"

// Config configures the scrape server.
type Config struct {
	// Enabled enables the scrape server.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address.
	// Defaults to ":9184".
	Addr string `yaml:"addr"`

	// EnablePprof exposes /debug/pprof/ on the same listener.
	EnablePprof bool `yaml:"enable_pprof"`
}

// Server exposes a gatherer over HTTP in the text exposition format.
type Server struct {
	log      logrus.FieldLogger
	cfg      Config
	gatherer prometheus.Gatherer
	metrics  *telemetry.Metrics
	server   *http.Server
	listener net.Listener
}

// NewServer creates a scrape server. metrics may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	gatherer prometheus.Gatherer,
	metrics *telemetry.Metrics,
) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9184"
	}

	return &Server{
		log:      log.WithField("component", "scrape"),
		cfg:      cfg,
		gatherer: gatherer,
		metrics:  metrics,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+MetricsRoute, s.metrics.Middleware(promhttp.HandlerFor(
		s.gatherer,
		promhttp.HandlerOpts{
			ErrorLog:      s.log.WithField("handler", "metrics"),
			ErrorHandling: promhttp.ContinueOnError,
		},
	)))
	mux.Handle("GET /healthz", s.metrics.Middleware(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "ok")
		},
	)))

	if s.cfg.EnablePprof {
		// pprof endpoints for CPU/memory profiling.
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

// Start begins serving.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", ln.Addr().String()).
			Info("Scrape server started")

		if err := s.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).
				Error("Scrape server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}
