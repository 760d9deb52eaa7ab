// Package google adapts the Gemini generateContent API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
)

// DefaultBaseURL is the public Gemini API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config configures a Provider.
type Config struct {
	BaseURL   string
	APIKey    func() string
	Models    []string
	Transport llmhttp.Options
}

// Provider speaks the Gemini protocol.
type Provider struct {
	client *llmhttp.Client
	apiKey func() string
	models map[string]struct{}
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config) *Provider {
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
		client: llmhttp.New(catalog.BackendGoogle, base, cfg.Transport),
		apiKey: key,
		models: models,
	}
}

func (p *Provider) Name() catalog.Backend { return catalog.BackendGoogle }

func (p *Provider) IsConfigured() bool { return p.apiKey() != "" }

func (p *Provider) Supports(id string) bool {
	_, ok := p.models[id]
	return ok
}

func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (r *generateResponse) text() string {
	var b strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (r *generateResponse) usage() (chat.Usage, bool) {
	if r.UsageMetadata == nil {
		return chat.Usage{}, false
	}
	u := chat.NewUsage(r.UsageMetadata.PromptTokenCount, r.UsageMetadata.CandidatesTokenCount)
	if r.UsageMetadata.TotalTokenCount > u.Total {
		u.Total = r.UsageMetadata.TotalTokenCount
	}
	return u, true
}

// buildRequest maps roles: assistant becomes "model", system turns move to
// systemInstruction.
func buildRequest(req *llm.Request) *generateRequest {
	out := &generateRequest{}
	var system []part
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			system = append(system, part{Text: m.Content})
		case chat.RoleAssistant:
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}
	o := req.Options
	if o.MaxTokens > 0 || o.Temperature != nil || o.TopP != nil || len(o.Stop) > 0 {
		out.GenerationConfig = &generationConfig{
			MaxOutputTokens: o.MaxTokens,
			Temperature:     o.Temperature,
			TopP:            o.TopP,
			StopSequences:   o.Stop,
		}
	}
	return out
}

func (p *Provider) header() http.Header {
	return llmhttp.Header("x-goog-api-key", p.apiKey())
}

func (p *Provider) blocked(reason string) error {
	return &chat.BackendError{Backend: p.Name(), Code: "blocked", Message: "prompt blocked: " + reason}
}

// Complete performs a buffered generateContent call.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*chat.Response, error) {
	path := "/models/" + url.PathEscape(req.Model) + ":generateContent"
	var resp generateResponse
	if err := p.client.PostJSON(ctx, path, p.header(), buildRequest(req), &resp); err != nil {
		return nil, err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, p.blocked(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, p.client.Malformed(errors.New("gemini response has no candidates"))
	}
	out := &chat.Response{
		Content:      resp.text(),
		Model:        resp.ModelVersion,
		FinishReason: resp.Candidates[0].FinishReason,
	}
	out.Usage, out.UsageKnown = resp.usage()
	return out, nil
}

// Stream opens a streamGenerateContent call in SSE mode. Gemini has no end
// sentinel; the stream finishes at EOF.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan chat.Chunk, error) {
	path := "/models/" + url.PathEscape(req.Model) + ":streamGenerateContent?alt=sse"
	r, err := p.client.OpenStream(ctx, path, p.header(), buildRequest(req))
	if err != nil {
		return nil, err
	}
	decode := func(ev llmhttp.Event, st *llmhttp.StreamState) (string, bool, error) {
		var resp generateResponse
		if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
			return "", false, p.client.Malformed(fmt.Errorf("decode stream chunk: %w", err))
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", false, p.blocked(resp.PromptFeedback.BlockReason)
		}
		if u, ok := resp.usage(); ok {
			st.Usage = &u
		}
		for _, c := range resp.Candidates {
			if c.FinishReason != "" {
				st.FinishReason = c.FinishReason
			}
		}
		return resp.text(), false, nil
	}
	return p.client.Pump(ctx, r, true, decode), nil
}
