// Package llm defines the port every language-model backend adapter implements.
package llm

import (
	"context"
	"unicode/utf8"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
)

// Request is a chat call already resolved to one backend. Model is the
// backend's own identifier, translated by the catalog.
type Request struct {
	Model    string
	Messages []chat.Message
	Options  chat.Options
}

// Provider is a backend adapter. Implementations are safe for concurrent use.
//
// Failures are reported as *chat.BackendError with Retryable set by the
// adapter: auth, billing and malformed responses are final; throttling,
// 5xx, timeouts and connection faults are retryable.
type Provider interface {
	// Name identifies the backend.
	Name() catalog.Backend

	// IsConfigured reports whether credentials are present. It is checked on
	// every dispatch, so rotated keys take effect without a restart.
	IsConfigured() bool

	// Supports reports whether the backend can serve the given backend model id.
	Supports(backendModelID string) bool

	// Complete performs a buffered completion.
	Complete(ctx context.Context, req *Request) (*chat.Response, error)

	// Stream opens a streaming completion. An error here means the stream was
	// never established. Once open, chunks arrive in emission order and the
	// sequence ends with one chunk carrying Done or Err, after which the
	// channel is closed. Cancelling ctx aborts the backend connection and
	// closes the channel.
	Stream(ctx context.Context, req *Request) (<-chan chat.Chunk, error)

	// EstimateTokens approximates the token count of text.
	EstimateTokens(text string) int
}

// EstimateTokens is the shared length heuristic: one token per four
// characters, rounded up. It is only used when a backend reports no usage.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
