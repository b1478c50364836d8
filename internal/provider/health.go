package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig checks a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// OllamaHealthCheck calls GET <host>/api/tags, which lists local models and
// needs no credentials.
type OllamaHealthCheck struct {
	Host   string
	Client *http.Client
}

// HealthCheck returns nil when Ollama answers with 200.
func (h *OllamaHealthCheck) HealthCheck(ctx context.Context) error {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := strings.TrimRight(h.Host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: ollama health: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: ollama health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: ollama health: status %d", resp.StatusCode)
	}
	return nil
}

// HealthCheckFor returns a zero-cost health check for cfg's backend, or nil
// when the backend has none.
func HealthCheckFor(cfg *Config) HealthCheckConfig {
	if cfg.Backend == BackendOllama {
		return &OllamaHealthCheck{Host: cfg.Ollama.Host}
	}
	return nil
}
