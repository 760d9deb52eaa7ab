// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
)

const (
	DefaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// max_tokens is mandatory on this API.
	defaultMaxTokens = 4096
)

// Config configures a Provider.
type Config struct {
	BaseURL   string
	APIKey    func() string
	Models    []string
	Transport llmhttp.Options
}

// Provider speaks the Anthropic Messages protocol.
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
		client: llmhttp.New(catalog.BackendAnthropic, base, cfg.Transport),
		apiKey: key,
		models: models,
	}
}

func (p *Provider) Name() catalog.Backend { return catalog.BackendAnthropic }

func (p *Provider) IsConfigured() bool { return p.apiKey() != "" }

func (p *Provider) Supports(id string) bool {
	_, ok := p.models[id]
	return ok
}

func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *usage `json:"usage"`
}

// streamEvent is the union of the typed SSE payloads.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage usage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) header() http.Header {
	return llmhttp.Header("x-api-key", p.apiKey(), "anthropic-version", apiVersion)
}

// buildRequest lifts system turns into the top-level system field.
func buildRequest(req *llm.Request, stream bool) *messagesRequest {
	var system []string
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, message{Role: string(m.Role), Content: m.Content})
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &messagesRequest{
		Model:         req.Model,
		System:        strings.Join(system, "\n\n"),
		Messages:      msgs,
		MaxTokens:     maxTokens,
		Temperature:   req.Options.Temperature,
		TopP:          req.Options.TopP,
		StopSequences: req.Options.Stop,
		Stream:        stream,
	}
}

// Complete performs a buffered Messages call.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*chat.Response, error) {
	var resp messagesResponse
	if err := p.client.PostJSON(ctx, "/messages", p.header(), buildRequest(req, false), &resp); err != nil {
		return nil, err
	}
	if resp.Content == nil {
		return nil, p.client.Malformed(errors.New("anthropic response has no content"))
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := &chat.Response{Content: text.String(), Model: resp.Model, FinishReason: resp.StopReason}
	if resp.Usage != nil {
		out.Usage = chat.NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		out.UsageKnown = true
	}
	return out, nil
}

// Stream opens a streaming Messages call.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan chat.Chunk, error) {
	r, err := p.client.OpenStream(ctx, "/messages", p.header(), buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	var in, out int
	var sawUsage bool
	decode := func(ev llmhttp.Event, st *llmhttp.StreamState) (string, bool, error) {
		var e streamEvent
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			return "", false, p.client.Malformed(fmt.Errorf("decode %s event: %w", ev.Name, err))
		}
		typ := e.Type
		if typ == "" {
			typ = ev.Name
		}
		switch typ {
		case "message_start":
			if e.Message != nil {
				in, out = e.Message.Usage.InputTokens, e.Message.Usage.OutputTokens
				sawUsage = true
			}
		case "content_block_delta":
			if e.Delta != nil && e.Delta.Type == "text_delta" {
				return e.Delta.Text, false, nil
			}
		case "message_delta":
			if e.Delta != nil && e.Delta.StopReason != "" {
				st.FinishReason = e.Delta.StopReason
			}
			if e.Usage != nil {
				out = e.Usage.OutputTokens
				sawUsage = true
			}
		case "message_stop":
			if sawUsage {
				u := chat.NewUsage(in, out)
				st.Usage = &u
			}
			return "", true, nil
		case "error":
			be := &chat.BackendError{Backend: p.Name(), Message: "stream error"}
			if e.Error != nil {
				be.Code, be.Message = e.Error.Type, e.Error.Message
			}
			return "", false, be
		}
		return "", false, nil
	}
	return p.client.Pump(ctx, r, false, decode), nil
}
