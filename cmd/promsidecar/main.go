package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ethpandaops/promsidecar/internal/agent"
	"github.com/ethpandaops/promsidecar/internal/version"
)

// formatters maps --log-format values to logrus formatters.
var formatters = map[string]func() logrus.Formatter{
	"text": func() logrus.Formatter { return &logrus.TextFormatter{FullTimestamp: true} },
	"json": func() logrus.Formatter { return &logrus.JSONFormatter{} },
}

type options struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "promsidecar",
		Short: "Prometheus metrics side-car with remote-write export",
		Long: `promsidecar exposes a Prometheus registry for scraping and
periodically pushes the same snapshot to a remote-write endpoint.
It can also relay authenticated remote-write requests upstream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (required)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	flags.StringVar(&opts.logFormat, "log-format", "text",
		"log output format ("+strings.Join(formatNames(), ", ")+")")

	cobra.CheckErr(cmd.MarkFlagRequired("config"))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullWithPlatform())
		},
	})

	return cmd
}

func run(parent context.Context, opts options) error {
	cfg, err := agent.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	log, err := newLogger(cfg.LogLevel, opts.logFormat)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, unix.SIGINT, unix.SIGTERM)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithFields(logrus.Fields{
		"version": version.Full(),
		"scrape":  cfg.Scrape.Enabled,
		"push":    cfg.Push.Enabled,
		"relay":   cfg.Relay.Enabled,
	}).Info("Starting promsidecar")

	return serve(ctx, log, a)
}

// newLogger builds the process logger from a level and a format name.
func newLogger(level, format string) (*logrus.Logger, error) {
	formatter, ok := formatters[format]
	if !ok {
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetFormatter(formatter())
	log.SetLevel(lvl)

	return log, nil
}

// serve starts a, blocks until ctx is done and stops a. Components that
// started before a Start failure are stopped too.
func serve(ctx context.Context, log logrus.FieldLogger, a agent.Agent) error {
	if err := a.Start(ctx); err != nil {
		if stopErr := a.Stop(); stopErr != nil {
			log.WithError(stopErr).Error("Error stopping after failed start")
		}

		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down promsidecar")

	if err := a.Stop(); err != nil {
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

func formatNames() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
