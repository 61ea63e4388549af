package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/promsidecar/internal/auth"
	"github.com/ethpandaops/promsidecar/internal/relay"
	"github.com/ethpandaops/promsidecar/internal/remotewrite"
	"github.com/ethpandaops/promsidecar/internal/scrape"
	"github.com/ethpandaops/promsidecar/internal/telemetry"
	"github.com/ethpandaops/promsidecar/internal/version"
)

// Agent is the top-level orchestrator for the side-car.
type Agent interface {
	// Start starts every enabled component.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
	// Registry returns the registry that is scraped and pushed.
	Registry() *prometheus.Registry
}

type component interface {
	Start(ctx context.Context) error
	Stop() error
}

type namedComponent struct {
	name string
	component
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	scrape    *scrape.Server
	scheduler *remotewrite.Scheduler
	relay     *relay.Server

	// components in start order.
	components []namedComponent
	started    int
	stopOnce   sync.Once
}

// New creates a new Agent and the registry its components share.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo(),
	)

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		registry: reg,
		metrics:  telemetry.NewMetrics(reg),
	}

	if err := a.build(log); err != nil {
		// Release codecs held by whatever was already built.
		_ = a.Stop()

		return nil, err
	}

	return a, nil
}

// build constructs the enabled components. Servers come before the push
// scheduler so the first push can already be scraped.
func (a *agent) build(log logrus.FieldLogger) error {
	if a.cfg.Scrape.Enabled {
		a.scrape = scrape.NewServer(log, a.cfg.Scrape, a.registry, a.metrics)
		a.components = append(a.components, namedComponent{"scrape", a.scrape})
	}

	if a.cfg.Relay.Enabled {
		provider, err := auth.LoadProvider(log, a.cfg.Relay.BearerTokensFile)
		if err != nil {
			return fmt.Errorf("loading relay bearer tokens: %w", err)
		}

		srv, err := relay.NewServer(log, a.cfg.Relay, provider, a.metrics)
		if err != nil {
			return fmt.Errorf("creating relay: %w", err)
		}

		a.relay = srv
		a.components = append(a.components, namedComponent{"relay", srv})
	}

	if a.cfg.Push.Enabled {
		scheduler, err := remotewrite.NewScheduler(log, a.cfg.Push, a.registry, a.metrics)
		if err != nil {
			return fmt.Errorf("creating push scheduler: %w", err)
		}

		a.scheduler = scheduler
		a.components = append(a.components, namedComponent{"push", scheduler})
	}

	return nil
}

func (a *agent) Registry() *prometheus.Registry {
	return a.registry
}

// Start starts components in order. On error the caller should still call
// Stop to shut down the ones that did start.
func (a *agent) Start(ctx context.Context) error {
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", c.name, err)
		}

		a.started++

		a.log.WithField("component_name", c.name).Info("Component started")
	}

	a.log.WithField("components", a.started).Info("Agent fully started")

	return nil
}

// Stop stops every built component, started or not, so unstarted ones
// still release their codecs. Safe to call more than once.
func (a *agent) Stop() error {
	a.stopOnce.Do(func() {
		// Stop in reverse order.
		for i := len(a.components) - 1; i >= 0; i-- {
			if err := a.components[i].Stop(); err != nil {
				a.log.WithError(err).
					WithField("component_name", a.components[i].name).
					Error("Error stopping component")
			}
		}
	})

	return nil
}

// buildInfo exposes the running version as a constant gauge.
func buildInfo() prometheus.Collector {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "promsidecar",
		Name:      "build_info",
		Help:      "Build information of the running side-car.",
	}, []string{"version", "commit"})

	g.WithLabelValues(version.Release, version.GitCommit).Set(1)

	return g
}
