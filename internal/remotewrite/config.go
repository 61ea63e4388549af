package remotewrite

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// ClientConfig configures the HTTP client that delivers write requests.
type ClientConfig struct {
	// URL is the remote-write endpoint.
	URL string `yaml:"url"`

	// BearerToken is sent as "Authorization: Bearer <token>".
	BearerToken string `yaml:"bearer_token"`

	// BearerTokenFile is read at startup when BearerToken is empty.
	BearerTokenFile string `yaml:"bearer_token_file"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`

	// Compression specifies the block compression algorithm.
	// Valid values: snappy, zstd. Defaults to snappy.
	Compression string `yaml:"compression"`

	// Timeout bounds a single push request.
	// Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// Config configures the periodic remote-write push.
type Config struct {
	// Enabled enables the push scheduler.
	Enabled bool `yaml:"enabled"`

	// Client configures the remote-write endpoint.
	Client ClientConfig `yaml:",inline"`

	// Interval is the time between pushes.
	// Defaults to 30s.
	Interval time.Duration `yaml:"interval"`

	// ExternalLabels are added to every pushed series.
	ExternalLabels map[string]string `yaml:"external_labels"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	keepAlive := true

	return ClientConfig{
		Compression: CompressionSnappy,
		Timeout:     30 * time.Second,
		KeepAlive:   &keepAlive,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:   DefaultClientConfig(),
		Interval: 30 * time.Second,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	c.Client.ApplyDefaults()

	if c.Interval <= 0 {
		c.Interval = DefaultConfig().Interval
	}
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", c.URL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", c.URL)
	}

	if c.BearerToken != "" && c.BearerTokenFile != "" {
		return errors.New("at most one of bearer_token and bearer_token_file may be set")
	}

	if c.Compression != "" {
		switch c.Compression {
		case CompressionSnappy, CompressionZstd:
			// Valid.
		default:
			return errors.New("invalid compression type: " + c.Compression)
		}
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if err := c.Client.Validate(); err != nil {
		return err
	}

	return ValidateExternalLabels(c.ExternalLabels)
}

// ResolveBearerToken loads BearerTokenFile into BearerToken when set.
func (c *ClientConfig) ResolveBearerToken() error {
	if c.BearerTokenFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.BearerTokenFile)
	if err != nil {
		return fmt.Errorf("reading bearer token file %s: %w", c.BearerTokenFile, err)
	}

	c.BearerToken = strings.TrimSpace(string(data))

	return nil
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *ClientConfig) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}

// ValidateExternalLabels rejects label names that are not valid Prometheus
// label names or that collide with labels the encoder writes itself.
func ValidateExternalLabels(labels map[string]string) error {
	for name := range labels {
		if !model.LabelName(name).IsValid() {
			return fmt.Errorf("invalid external label name %q", name)
		}

		if reservedLabel(name) {
			return fmt.Errorf("external label name %q is reserved", name)
		}
	}

	return nil
}
