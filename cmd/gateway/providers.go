package main

import (
	"github.com/alextavares/aichat-sub001/internal/adapter/anthropic"
	"github.com/alextavares/aichat-sub001/internal/adapter/google"
	"github.com/alextavares/aichat-sub001/internal/adapter/litellm"
	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/adapter/openai"
	"github.com/alextavares/aichat-sub001/internal/adapter/openrouter"
	"github.com/alextavares/aichat-sub001/internal/config"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/port/cache"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/resilience"
	"github.com/alextavares/aichat-sub001/internal/secrets"
)

// backends holds the constructed adapters. LiteLLM is kept separately so
// its model discovery can be started.
type backends struct {
	all     []llm.Provider
	litellm *litellm.Provider
}

// buildProviders constructs one adapter per backend. Credentials are read
// from the vault on every call, so a reloaded secrets file takes effect
// without a restart. Each adapter gets its own breaker.
func buildProviders(cfg *config.Config, cat *catalog.Catalog, vault *secrets.Vault, c cache.Cache) backends {
	hc := llmhttp.NewHTTPClient(cfg.Providers.HTTPTimeout)
	transport := func(b catalog.Backend) llmhttp.Options {
		return llmhttp.Options{
			HTTPClient:   hc,
			Breaker:      resilience.NewBreaker(string(b), cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
			StreamBuffer: cfg.Providers.StreamBuf,
		}
	}
	p := cfg.Providers

	lite := litellm.New(litellm.Config{
		BaseURL:   p.LiteLLM.BaseURL,
		MasterKey: vault.Getter(secrets.LiteLLMKey),
		Models:    cat.ExternalIDs(catalog.BackendLiteLLM),
		Cache:     cache.Prefixed(c, "litellm:"),
		Transport: transport(catalog.BackendLiteLLM),
	})

	all := []llm.Provider{
		openai.New(openai.Config{
			BaseURL:   p.OpenAI.BaseURL,
			APIKey:    vault.Getter(secrets.OpenAIKey),
			Models:    cat.ExternalIDs(catalog.BackendOpenAI),
			Transport: transport(catalog.BackendOpenAI),
		}),
		anthropic.New(anthropic.Config{
			BaseURL:   p.Anthropic.BaseURL,
			APIKey:    vault.Getter(secrets.AnthropicKey),
			Models:    cat.ExternalIDs(catalog.BackendAnthropic),
			Transport: transport(catalog.BackendAnthropic),
		}),
		google.New(google.Config{
			BaseURL:   p.Google.BaseURL,
			APIKey:    vault.Getter(secrets.GoogleKey),
			Models:    cat.ExternalIDs(catalog.BackendGoogle),
			Transport: transport(catalog.BackendGoogle),
		}),
		openrouter.New(openrouter.Config{
			BaseURL:   p.OpenRouter.BaseURL,
			APIKey:    vault.Getter(secrets.OpenRouterKey),
			Models:    cat.ExternalIDs(catalog.BackendOpenRouter),
			Referer:   cfg.Server.CORSOrigin,
			Title:     cfg.Logging.Service,
			Transport: transport(catalog.BackendOpenRouter),
		}),
		lite,
	}
	return backends{all: all, litellm: lite}
}
