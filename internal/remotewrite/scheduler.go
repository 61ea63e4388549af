package remotewrite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/promsidecar/internal/telemetry"
)

// State is the scheduler lifecycle state.
type State int32

const (
	// StateIdle means the loop has not been started.
	StateIdle State = iota
	// StateRunning means the loop is ticking.
	StateRunning
	// StateCancelled is terminal.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Scheduler pushes a snapshot of a gatherer on a fixed interval.
type Scheduler struct {
	log      logrus.FieldLogger
	cfg      Config
	gatherer prometheus.Gatherer
	codec    *Codec
	metrics  *telemetry.Metrics

	// pusher is only touched by the loop goroutine.
	pusher *Pusher

	state atomic.Int32
	now   func() time.Time

	mu     sync.Mutex // guards cancel and the Idle to Running transition
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a push scheduler. metrics may be nil.
func NewScheduler(
	log logrus.FieldLogger,
	cfg Config,
	gatherer prometheus.Gatherer,
	metrics *telemetry.Metrics,
) (*Scheduler, error) {
	cfg.ApplyDefaults()

	if err := cfg.Client.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := ValidateExternalLabels(cfg.ExternalLabels); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.Client.ResolveBearerToken(); err != nil {
		return nil, err
	}

	codec, err := NewCodec(cfg.Client.Compression)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		log:      log.WithField("component", "remote_write"),
		cfg:      cfg,
		gatherer: gatherer,
		codec:    codec,
		metrics:  metrics,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	s.pusher = s.newPusher()

	return s, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start runs the push loop in a new goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	go s.loop(ctx)

	return nil
}

// Run runs the push loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	s.loop(ctx)

	return nil
}

// begin moves the scheduler to Running and derives the loop context
// that Stop cancels.
func (s *Scheduler) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("scheduler already %s", s.State())
	}

	ctx, s.cancel = context.WithCancel(ctx)

	return ctx, nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.State() != StateIdle
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if started {
		<-s.done
	}

	return s.codec.Close()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateCancelled))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"url":      s.cfg.Client.URL,
		"interval": s.cfg.Interval,
	}).Info("Starting remote write push")

	// The first push happens immediately rather than one interval in.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Received cancellation request, shutting down remote write push")

			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one push and applies the failure policy.
func (s *Scheduler) tick(ctx context.Context) {
	// A tick that raced with cancellation is dropped.
	if ctx.Err() != nil {
		return
	}

	start := time.Now()

	// The request itself is not aborted by cancellation; the client
	// timeout bounds it instead.
	err := s.push(context.WithoutCancel(ctx))

	s.observe(start, err)

	if err == nil {
		return
	}

	s.log.WithError(err).Warn("Unable to push metrics")

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		s.recreatePusher()
	}
}

// push gathers, encodes and sends one write request.
func (s *Scheduler) push(ctx context.Context) error {
	families, err := s.gatherer.Gather()
	if err != nil {
		if len(families) == 0 {
			return &GatherError{Err: err}
		}

		s.log.WithError(err).Warn("Partial gather, pushing available families")
	}

	req := Encode(families, s.cfg.ExternalLabels, s.now())

	body, err := s.codec.Encode(req)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PushSeries.Set(float64(len(req.Timeseries)))
		s.metrics.PushBytes.Set(float64(len(body)))
	}

	if err := s.pusher.Push(ctx, body); err != nil {
		return err
	}

	s.log.WithField("series", len(req.Timeseries)).
		Debug("Successfully pushed series to remote write")

	return nil
}

func (s *Scheduler) newPusher() *Pusher {
	return NewPusher(s.log, s.cfg.Client, s.codec.ContentEncoding())
}

// recreatePusher replaces the client after a transport failure.
func (s *Scheduler) recreatePusher() {
	old := s.pusher
	s.pusher = s.newPusher()
	old.Close()

	if s.metrics != nil {
		s.metrics.PushClientRecreations.Inc()
	}

	s.log.Debug("Recreated remote write client")
}

func (s *Scheduler) observe(start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	s.metrics.PushDuration.Observe(time.Since(start).Seconds())
	s.metrics.PushTotal.WithLabelValues(resultLabel(err)).Inc()

	if err == nil {
		s.metrics.PushLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// resultLabel classifies err for the push_total metric.
func resultLabel(err error) string {
	var (
		rejected    *RejectedError
		transport   *TransportError
		encode      *EncodeError
		compression *CompressionError
		gather      *GatherError
	)

	switch {
	case err == nil:
		return telemetry.ResultSuccess
	case errors.As(err, &rejected):
		return telemetry.ResultRejected
	case errors.As(err, &transport):
		return telemetry.ResultTransport
	case errors.As(err, &encode):
		return telemetry.ResultEncode
	case errors.As(err, &compression):
		return telemetry.ResultCompression
	case errors.As(err, &gather):
		return telemetry.ResultGather
	default:
		return telemetry.ResultTransport
	}
}
