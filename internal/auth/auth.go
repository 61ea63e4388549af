// Package auth gates HTTP requests behind a static bearer-token allow-list.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const bearerPrefix = "Bearer "

// TokenEntry names one accepted bearer token.
type TokenEntry struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// Provider holds the token allow-list. It is read-only after creation
// and safe for concurrent use.
type Provider struct {
	log    logrus.FieldLogger
	tokens map[string]string // token -> name
}

// NewProvider builds a Provider from token entries.
func NewProvider(log logrus.FieldLogger, entries []TokenEntry) (*Provider, error) {
	log = log.WithField("component", "auth")

	tokens := make(map[string]string, len(entries))

	for i, e := range entries {
		if e.Token == "" {
			return nil, fmt.Errorf("token entry %d (%q) has an empty token", i, e.Name)
		}

		if prev, ok := tokens[e.Token]; ok {
			return nil, fmt.Errorf("token for %q duplicates token for %q", e.Name, prev)
		}

		tokens[e.Token] = e.Name

		log.WithField("name", e.Name).Info("Bearer token loaded")
	}

	return &Provider{log: log, tokens: tokens}, nil
}

// LoadProvider reads a YAML list of {name, token} entries from path.
func LoadProvider(log logrus.FieldLogger, path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file %s: %w", path, err)
	}

	var entries []TokenEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", path, err)
	}

	if len(entries) == 0 {
		return nil, errors.New("token file " + path + " contains no tokens")
	}

	return NewProvider(log, entries)
}

// Allowed reports whether token is in the allow-list.
func (p *Provider) Allowed(token string) bool {
	name, ok := p.tokens[token]
	if !ok {
		p.log.Info("Rejected bearer token")

		return false
	}

	p.log.WithField("name", name).Debug("Accepted request")

	return true
}

// Len returns the number of accepted tokens.
func (p *Provider) Len() int {
	return len(p.tokens)
}

// Middleware rejects requests without an allowed bearer token with 401.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			p.log.WithField("remote_addr", r.RemoteAddr).
				Info("No bearer token found, rejecting request")
			unauthorized(w)

			return
		}

		if !p.Allowed(token) {
			unauthorized(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	token, found := strings.CutPrefix(header, bearerPrefix)
	if !found {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
