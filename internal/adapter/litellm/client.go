// Package litellm adapts a LiteLLM proxy. Chat traffic uses the proxy's
// OpenAI-compatible endpoints; the admin API supplies model discovery and
// health.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/adapter/openai"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/port/cache"
)

// DefaultDiscoveryTTL bounds how long a discovered model list is trusted.
const DefaultDiscoveryTTL = 5 * time.Minute

const discoveryKey = "litellm:models"

// Model represents a configured model in LiteLLM.
type Model struct {
	ModelName string            `json:"model_name"`
	Provider  string            `json:"litellm_provider,omitempty"`
	ModelID   string            `json:"model_id,omitempty"`
	ModelInfo map[string]any    `json:"model_info,omitempty"`
	Params    map[string]string `json:"litellm_params,omitempty"`
}

// HealthStatus represents the health of the proxy's deployments.
type HealthStatus struct {
	Healthy        []ModelHealth `json:"healthy_endpoints"`
	Unhealthy      []ModelHealth `json:"unhealthy_endpoints"`
	HealthyCount   int           `json:"healthy_count"`
	UnhealthyCount int           `json:"unhealthy_count"`
}

// ModelHealth represents the health of a single model endpoint.
type ModelHealth struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config configures the adapter.
type Config struct {
	BaseURL      string
	MasterKey    func() string
	Models       []string // statically known model names
	Cache        cache.Cache
	DiscoveryTTL time.Duration
	Transport    llmhttp.Options
}

// Provider is the LiteLLM adapter. The embedded openai Provider serves
// Complete and Stream; Supports also accepts models discovered from the
// proxy.
type Provider struct {
	*openai.Provider

	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group

	mu         sync.RWMutex
	discovered map[string]struct{}
}

// New creates a LiteLLM adapter.
func New(cfg Config) *Provider {
	ttl := cfg.DiscoveryTTL
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	c := cfg.Cache
	if c == nil {
		c = cache.Nop{}
	}
	return &Provider{
		Provider: openai.New(openai.Config{
			Backend:   catalog.BackendLiteLLM,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.MasterKey,
			Models:    cfg.Models,
			Transport: cfg.Transport,
		}),
		cache:      c,
		ttl:        ttl,
		discovered: make(map[string]struct{}),
	}
}

// Supports reports whether id is statically configured or was discovered.
func (p *Provider) Supports(id string) bool {
	if p.Provider.Supports(id) {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.discovered[id]
	return ok
}

// ListModels returns all configured models from LiteLLM.
func (p *Provider) ListModels(ctx context.Context) ([]Model, error) {
	var result struct {
		Data []Model `json:"data"`
	}
	if err := p.Client().GetJSON(ctx, "/model/info", p.AuthHeader(), &result); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return result.Data, nil
}

// Discover refreshes the discovered model set, consulting the shared cache
// before the proxy. Concurrent callers share one request.
func (p *Provider) Discover(ctx context.Context) ([]string, error) {
	v, err, _ := p.group.Do(discoveryKey, func() (any, error) {
		if data, ok, err := p.cache.Get(ctx, discoveryKey); err == nil && ok {
			var names []string
			if err := json.Unmarshal(data, &names); err == nil {
				return names, nil
			}
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.ModelName)
		}
		if data, err := json.Marshal(names); err == nil {
			if err := p.cache.Set(ctx, discoveryKey, data, p.ttl); err != nil {
				slog.Warn("cache litellm models", "error", err)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	p.mu.Lock()
	p.discovered = set
	p.mu.Unlock()
	return names, nil
}

// RunDiscovery refreshes the model set every interval until ctx is done.
func (p *Provider) RunDiscovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.ttl
	}
	refresh := func() {
		if _, err := p.Discover(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("litellm model discovery failed", "error", err)
		}
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Health checks if LiteLLM is healthy.
func (p *Provider) Health(ctx context.Context) (bool, error) {
	err := p.Client().GetJSON(ctx, "/health/liveliness", p.AuthHeader(), nil)
	return err == nil, err
}

// HealthDetailed returns per-deployment health.
func (p *Provider) HealthDetailed(ctx context.Context) (*HealthStatus, error) {
	var hs HealthStatus
	if err := p.Client().GetJSON(ctx, "/health", p.AuthHeader(), &hs); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if hs.HealthyCount == 0 {
		hs.HealthyCount = len(hs.Healthy)
	}
	if hs.UnhealthyCount == 0 {
		hs.UnhealthyCount = len(hs.Unhealthy)
	}
	return &hs, nil
}
