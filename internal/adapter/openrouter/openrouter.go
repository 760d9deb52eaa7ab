// Package openrouter adapts the OpenRouter aggregator. OpenRouter speaks the
// OpenAI chat completions protocol, so this is a thin configuration of the
// openai adapter plus the attribution headers OpenRouter asks for.
package openrouter

import (
	"net/http"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/adapter/openai"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures the OpenRouter adapter.
type Config struct {
	BaseURL   string
	APIKey    func() string
	Models    []string // vendor-prefixed ids, e.g. "openai/gpt-4o"
	Referer   string
	Title     string
	Transport llmhttp.Options
}

// New returns an openai-protocol Provider that reports itself as openrouter.
func New(cfg Config) *openai.Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return openai.New(openai.Config{
		Backend:   catalog.BackendOpenRouter,
		BaseURL:   base,
		APIKey:    cfg.APIKey,
		Models:    cfg.Models,
		Headers:   headers(cfg.Referer, cfg.Title),
		Transport: cfg.Transport,
	})
}

func headers(referer, title string) http.Header {
	h := llmhttp.Header("HTTP-Referer", referer, "X-Title", title)
	if len(h) == 0 {
		return nil
	}
	return h
}
