package remotewrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/promsidecar/internal/version"
)

const (
	// RemoteWriteVersion is sent in the X-Prometheus-Remote-Write-Version header.
	RemoteWriteVersion = "0.1.0"

	// maxErrorBody bounds how much of a rejection body is kept.
	maxErrorBody = 64 * 1024
)

// Pusher sends compressed write requests to a remote-write endpoint.
// A Pusher owns its HTTP client; replace the Pusher rather than repairing
// its connections.
type Pusher struct {
	cfg             ClientConfig
	contentEncoding string
	client          *http.Client
	log             logrus.FieldLogger
}

// NewPusher creates a Pusher with a fresh HTTP client. contentEncoding
// must match the compression applied to bodies passed to Push.
func NewPusher(log logrus.FieldLogger, cfg ClientConfig, contentEncoding string) *Pusher {
	cfg.ApplyDefaults()

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Pusher{
		cfg:             cfg,
		contentEncoding: contentEncoding,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log.WithField("component", "remote_write_pusher"),
	}
}

// Push POSTs body to the configured endpoint. It does not retry.
func (p *Pusher) Push(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// Custom headers first so the protocol headers always win.
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("Authorization", "Bearer "+p.cfg.BearerToken)
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", p.contentEncoding)
	req.Header.Set("X-Prometheus-Remote-Write-Version", RemoteWriteVersion)
	req.Header.Set("User-Agent", "promsidecar/"+version.Release)

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RejectedError{
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp.Body),
		}
	}

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	p.log.WithFields(logrus.Fields{
		"url":    p.cfg.URL,
		"bytes":  len(body),
		"status": resp.StatusCode,
	}).Debug("Pushed write request")

	return nil
}

// Close releases idle connections held by the client.
func (p *Pusher) Close() {
	p.client.CloseIdleConnections()
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("couldn't decode response body: %v", err)
	}

	return strings.TrimSpace(string(data))
}
