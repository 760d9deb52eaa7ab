// Package openai adapts the OpenAI chat completions API. The same wire format
// is spoken by the aggregators, so Provider is also the base of the
// openrouter and litellm adapters.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures a Provider.
type Config struct {
	Backend   catalog.Backend // defaults to openai
	BaseURL   string
	APIKey    func() string
	Models    []string // backend model ids this adapter serves
	Headers   http.Header
	Transport llmhttp.Options
}

// Provider speaks the OpenAI chat completions protocol.
type Provider struct {
	client  *llmhttp.Client
	apiKey  func() string
	models  map[string]struct{}
	headers http.Header
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config) *Provider {
	backend := cfg.Backend
	if backend == "" {
		backend = catalog.BackendOpenAI
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	key := cfg.APIKey
	if key == nil {
		key = func() string { return "" }
	}
	models := make(map[string]struct{}, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m] = struct{}{}
	}
	return &Provider{
		client:  llmhttp.New(backend, base, cfg.Transport),
		apiKey:  key,
		models:  models,
		headers: cfg.Headers,
	}
}

// Name identifies the backend.
func (p *Provider) Name() catalog.Backend { return p.client.Backend() }

// IsConfigured reports whether an API key is present.
func (p *Provider) IsConfigured() bool { return p.apiKey() != "" }

// Supports reports whether id is in the configured model set.
func (p *Provider) Supports(id string) bool {
	_, ok := p.models[id]
	return ok
}

// EstimateTokens applies the shared length heuristic.
func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

// Client exposes the transport for adapters built on this one.
func (p *Provider) Client() *llmhttp.Client { return p.client }

// AuthHeader returns the request headers including the bearer token.
func (p *Provider) AuthHeader() http.Header {
	h := p.headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if k := p.apiKey(); k != "" {
		h.Set("Authorization", "Bearer "+k)
	}
	return h
}

// Complete performs a buffered chat completion.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*chat.Response, error) {
	var resp completionResponse
	if err := p.client.PostJSON(ctx, "/chat/completions", p.AuthHeader(), buildRequest(req, false), &resp); err != nil {
		return nil, err
	}
	out, err := toResponse(&resp)
	if err != nil {
		return nil, p.client.Malformed(fmt.Errorf("%s completion: %w", p.Name(), err))
	}
	return out, nil
}

// Stream opens a streaming chat completion.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan chat.Chunk, error) {
	r, err := p.client.OpenStream(ctx, "/chat/completions", p.AuthHeader(), buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return p.client.Pump(ctx, r, false, p.decodeEvent), nil
}
