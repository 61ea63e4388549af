package agent

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/promsidecar/internal/relay"
	"github.com/ethpandaops/promsidecar/internal/remotewrite"
	"github.com/ethpandaops/promsidecar/internal/scrape"
)

// Config is the top-level configuration for the side-car.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Scrape configures the pull endpoint.
	Scrape scrape.Config `yaml:"scrape"`

	// Push configures periodic remote-write delivery.
	Push remotewrite.Config `yaml:"push"`

	// Relay configures the authenticated remote-write relay.
	Relay relay.Config `yaml:"relay"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Scrape: scrape.Config{
			Enabled: true,
			Addr:    ":9184",
		},
		Push:  remotewrite.DefaultConfig(),
		Relay: relay.DefaultConfig(),
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if !c.Scrape.Enabled && !c.Push.Enabled && !c.Relay.Enabled {
		return errors.New("at least one of scrape, push or relay must be enabled")
	}

	c.Push.ApplyDefaults()

	if err := c.Push.Validate(); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	c.Relay.ApplyDefaults()

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	return nil
}
