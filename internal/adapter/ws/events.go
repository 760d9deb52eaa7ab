package ws

import (
	"encoding/json"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
)

// Message types. Clients send chat.request and chat.cancel; the server
// answers with the rest, each tagged with the request id.
const (
	TypeChatRequest     = "chat.request"
	TypeChatCancel      = "chat.cancel"
	TypeToken           = "chat.token"
	TypeComplete        = "chat.complete"
	TypeError           = "chat.error"
	TypeAccountingError = "chat.accounting_error"
)

// CodeCancelled is reported when the client cancels its own request.
const CodeCancelled = "cancelled"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatRequest is the payload of chat.request.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	chat.Options
}

// TokenEvent is the payload of chat.token.
type TokenEvent struct {
	Delta string `json:"delta"`
}

// ErrorEvent is the payload of chat.error and chat.accounting_error.
type ErrorEvent struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errorMessages = map[string]string{
	chat.CodeInsufficientCredits: "insufficient credits",
	chat.CodeExhausted:           "model temporarily unavailable, please retry",
	chat.CodeNoProvider:          "no provider configured for this model",
	chat.CodeModelNotFound:       "model not found",
	chat.CodeModelUnavailable:    "model is not available",
	chat.CodeAccounting:          "usage could not be recorded",
	CodeCancelled:                "request cancelled",
}
