package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alextavares/aichat-sub001/internal/adapter/llmhttp"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type completionRequest struct {
	Model         string         `json:"model"`
	Messages      []message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usage) toDomain() chat.Usage {
	out := chat.NewUsage(u.PromptTokens, u.CompletionTokens)
	if u.TotalTokens > out.Total {
		out.Total = u.TotalTokens
	}
	return out
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func buildRequest(req *llm.Request, stream bool) *completionRequest {
	msgs := make([]message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = message{Role: string(m.Role), Content: m.Content}
	}
	out := &completionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		Stop:        req.Options.Stop,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func toResponse(resp *completionResponse) (*chat.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}
	out := &chat.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = resp.Usage.toDomain()
		out.UsageKnown = true
	}
	return out, nil
}

// decodeEvent handles one chat.completion.chunk. The stream ends with the
// literal "[DONE]" sentinel; usage arrives on a final choice-less chunk.
func (p *Provider) decodeEvent(ev llmhttp.Event, st *llmhttp.StreamState) (string, bool, error) {
	if ev.Data == "[DONE]" {
		return "", true, nil
	}
	var c streamChunk
	if err := json.Unmarshal([]byte(ev.Data), &c); err != nil {
		return "", false, p.client.Malformed(fmt.Errorf("decode stream chunk: %w", err))
	}
	if c.Error != nil {
		be := &chat.BackendError{Backend: p.Name(), Message: c.Error.Message}
		if c.Error.Code != nil {
			be.Code = fmt.Sprint(c.Error.Code)
		}
		return "", false, be
	}
	if c.Usage != nil {
		u := c.Usage.toDomain()
		st.Usage = &u
	}
	var delta string
	for _, ch := range c.Choices {
		delta += ch.Delta.Content
		if ch.FinishReason != nil && *ch.FinishReason != "" {
			st.FinishReason = *ch.FinishReason
		}
	}
	return delta, false, nil
}
