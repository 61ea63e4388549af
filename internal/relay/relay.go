// Package relay accepts remote-write requests from authenticated
// publishers and forwards them to an upstream remote-write endpoint.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/promsidecar/internal/auth"
	"github.com/ethpandaops/promsidecar/internal/remotewrite"
	"github.com/ethpandaops/promsidecar/internal/telemetry"
)

// Server is the relay HTTP server.
type Server struct {
	log     logrus.FieldLogger
	cfg     Config
	auth    *auth.Provider
	metrics *telemetry.Metrics

	// decoders by Content-Encoding of incoming requests.
	decoders map[string]*remotewrite.Codec
	upstream *remotewrite.Codec
	pusher   atomic.Pointer[remotewrite.Pusher]

	server   *http.Server
	listener net.Listener
}

// NewServer creates a relay. metrics may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	provider *auth.Provider,
	metrics *telemetry.Metrics,
) (*Server, error) {
	cfg.ApplyDefaults()

	if err := cfg.Upstream.ResolveBearerToken(); err != nil {
		return nil, err
	}

	upstream, err := remotewrite.NewCodec(cfg.Upstream.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating upstream codec: %w", err)
	}

	decoders := make(map[string]*remotewrite.Codec, 2)

	for _, algorithm := range []string{remotewrite.CompressionSnappy, remotewrite.CompressionZstd} {
		codec, err := remotewrite.NewCodec(
			algorithm, remotewrite.WithMaxDecodedBytes(cfg.MaxDecodedBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("creating %s decoder: %w", algorithm, err)
		}

		decoders[algorithm] = codec
	}

	s := &Server{
		log:      log.WithField("component", "relay"),
		cfg:      cfg,
		auth:     provider,
		metrics:  metrics,
		decoders: decoders,
		upstream: upstream,
	}

	s.pusher.Store(s.newPusher())

	return s, nil
}

// Handler returns the relay route wrapped in auth and request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+s.cfg.Path, s.metrics.Middleware(
		s.auth.Middleware(http.HandlerFunc(s.handlePublish)),
	))

	return mux
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, telemetry.ResultInvalid,
				"request body too large")

			return
		}

		s.fail(w, http.StatusBadRequest, telemetry.ResultInvalid, "reading body: "+err.Error())

		return
	}

	encoding := r.Header.Get("Content-Encoding")
	if encoding == "" {
		encoding = remotewrite.CompressionSnappy
	}

	decoder, ok := s.decoders[encoding]
	if !ok {
		s.fail(w, http.StatusUnsupportedMediaType, telemetry.ResultInvalid,
			"unsupported content encoding: "+encoding)

		return
	}

	req, err := decoder.Decode(body)
	if errors.Is(err, remotewrite.ErrDecodedTooLarge) {
		s.fail(w, http.StatusRequestEntityTooLarge, telemetry.ResultInvalid, err.Error())

		return
	}

	if err != nil {
		s.fail(w, http.StatusBadRequest, telemetry.ResultInvalid, err.Error())

		return
	}

	payload := body

	if len(s.cfg.ExternalLabels) > 0 || encoding != s.upstream.ContentEncoding() {
		for i := range req.Timeseries {
			req.Timeseries[i].Labels = remotewrite.MergeLabels(
				req.Timeseries[i].Labels, s.cfg.ExternalLabels,
			)
		}

		payload, err = s.upstream.Encode(req)
		if err != nil {
			s.fail(w, http.StatusInternalServerError, telemetry.ResultEncode, err.Error())

			return
		}
	}

	if err := s.pusher.Load().Push(r.Context(), payload); err != nil {
		s.handlePushError(w, err)

		return
	}

	if s.metrics != nil {
		s.metrics.RelayRequests.WithLabelValues(telemetry.ResultSuccess).Inc()
		s.metrics.RelaySeries.Add(float64(len(req.Timeseries)))
	}

	s.log.WithField("series", len(req.Timeseries)).Debug("Relayed write request")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushError(w http.ResponseWriter, err error) {
	var (
		rejected  *remotewrite.RejectedError
		transport *remotewrite.TransportError
	)

	switch {
	case errors.As(err, &rejected):
		s.fail(w, http.StatusBadGateway, telemetry.ResultRejected, err.Error())
	case errors.As(err, &transport):
		old := s.pusher.Swap(s.newPusher())
		old.Close()

		s.fail(w, http.StatusBadGateway, telemetry.ResultTransport, err.Error())
	default:
		s.fail(w, http.StatusBadGateway, telemetry.ResultUnavailable, err.Error())
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, result, msg string) {
	if s.metrics != nil {
		s.metrics.RelayRequests.WithLabelValues(result).Inc()
	}

	s.log.WithFields(logrus.Fields{
		"status": status,
		"result": result,
		"error":  msg,
	}).Warn("Relay request failed")

	http.Error(w, msg, status)
}

func (s *Server) newPusher() *remotewrite.Pusher {
	return remotewrite.NewPusher(s.log, s.cfg.Upstream, s.upstream.ContentEncoding())
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
		s.log.WithFields(logrus.Fields{
			"addr": ln.Addr().String(),
			"path": s.cfg.Path,
		}).Info("Relay server started")

		if err := s.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("Relay server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop shuts down the server and releases codecs.
func (s *Server) Stop() error {
	var err error

	if s.server != nil {
		err = s.server.Close()
	}

	for _, codec := range s.decoders {
		_ = codec.Close()
	}

	_ = s.upstream.Close()

	return err
}
