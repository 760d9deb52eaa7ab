// Package chat defines the request, response and streaming types shared by
// the dispatch router and the provider adapters.
package chat

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a completion. Zero values mean "backend default".
type Options struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Usage holds token counts for one call.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// NewUsage builds a Usage with Total filled in.
func NewUsage(input, output int) Usage {
	return Usage{Input: input, Output: output, Total: input + output}
}

// Response is a buffered completion returned by an adapter.
type Response struct {
	Content      string
	Usage        Usage
	UsageKnown   bool // false when the backend did not report usage
	Model        string
	FinishReason string
}

// Chunk is one element of a stream. A stream ends with exactly one chunk
// that has Done set or Err non-nil; the channel is closed afterwards.
type Chunk struct {
	Delta string
	Done  bool
	Usage *Usage // backend-reported usage, usually only on the final chunk
	Err   error
}

// Outcome is the result of one gateway dispatch.
type Outcome struct {
	Content        string          `json:"content"`
	Usage          Usage           `json:"tokens_used"`
	Cost           decimal.Decimal `json:"cost"`
	Model          string          `json:"model"`
	Backend        catalog.Backend `json:"backend"`
	UsageEstimated bool            `json:"usage_estimated"`
	FallbackUsed   bool            `json:"fallback_used"`
}

// ValidateMessages checks that a conversation is non-empty and well formed.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: messages are required", domain.ErrValidation)
	}
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has invalid role %q", domain.ErrValidation, i, m.Role)
		}
	}
	return nil
}

// PromptText concatenates message contents for token estimation.
func PromptText(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
