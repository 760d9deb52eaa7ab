package llmhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
)

// errorEnvelope covers the error bodies of the supported backends:
//
//	OpenAI / OpenRouter / LiteLLM: {"error":{"message","type","code"}}
//	Anthropic:                     {"type":"error","error":{"type","message"}}
//	Google:                        {"error":{"code":429,"message","status"}}
type errorEnvelope struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *Client) decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	be := &chat.BackendError{Backend: c.backend, Status: resp.StatusCode}

	var env errorEnvelope
	if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &env) == nil {
		be.Message = env.Error.Message
		if be.Message == "" {
			be.Message = env.Message
		}
		be.Code = firstNonEmpty(env.Error.Status, rawString(env.Error.Code), env.Error.Type)
	} else if len(data) > 0 {
		be.Message = strings.TrimSpace(string(data))
	}
	if be.Message == "" {
		be.Message = resp.Status
	}
	be.Retryable = Retryable(resp.StatusCode, be.Code, be.Message)
	be.Err = fmt.Errorf("http %d", resp.StatusCode)
	return be
}

// Retryable classifies a backend HTTP failure. Auth and billing problems are
// final even when the backend reports them as 429.
func Retryable(status int, code, message string) bool {
	if isBillingError(code) || isBillingError(message) {
		return false
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return false
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

func isBillingError(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "insufficient_quota") ||
		strings.Contains(s, "billing") ||
		strings.Contains(s, "credit balance is too low")
}

// rawString renders a JSON string or number code as text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
