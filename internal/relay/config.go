package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/promsidecar/internal/remotewrite"
)

// Config configures the authenticated remote-write relay.
type Config struct {
	// Enabled enables the relay.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address.
	// Defaults to ":8000".
	Addr string `yaml:"addr"`

	// Path is the route accepting remote-write requests.
	// Defaults to "/publish/metrics".
	Path string `yaml:"path"`

	// BearerTokensFile is a YAML list of {name, token} entries allowed
	// to publish.
	BearerTokensFile string `yaml:"bearer_tokens_file"`

	// MaxBodyBytes bounds the compressed request body.
	// Defaults to 10MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxDecodedBytes bounds the request after decompression.
	// Defaults to 32MiB.
	MaxDecodedBytes int64 `yaml:"max_decoded_bytes"`

	// Upstream is the remote-write endpoint requests are forwarded to.
	Upstream remotewrite.ClientConfig `yaml:"upstream"`

	// ExternalLabels are merged into every relayed series.
	ExternalLabels map[string]string `yaml:"external_labels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		Path:            "/publish/metrics",
		MaxBodyBytes:    10 * 1024 * 1024,
		MaxDecodedBytes: 32 * 1024 * 1024,
		Upstream:        remotewrite.DefaultClientConfig(),
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Addr == "" {
		c.Addr = defaults.Addr
	}

	if c.Path == "" {
		c.Path = defaults.Path
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaults.MaxBodyBytes
	}

	if c.MaxDecodedBytes <= 0 {
		c.MaxDecodedBytes = defaults.MaxDecodedBytes
	}

	c.Upstream.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.BearerTokensFile == "" {
		return errors.New("bearer_tokens_file is required when enabled")
	}

	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	return remotewrite.ValidateExternalLabels(c.ExternalLabels)
}
