package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/middleware"
	"github.com/alextavares/aichat-sub001/internal/resilience"
	"github.com/alextavares/aichat-sub001/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// requireCaller returns the identified caller or writes 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return service.Caller{}, false
	}
	return c, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorStatus classifies err into an HTTP status and client-facing body.
// Backend and storage details never reach the client.
func errorStatus(err error) (int, errorResponse) {
	code := chat.Code(err)
	switch code {
	case chat.CodeQuotaDenied:
		var denied *chat.QuotaDeniedError
		errors.As(err, &denied)
		return http.StatusForbidden, errorResponse{Error: denied.Reason, Code: code}
	case chat.CodeInsufficientCredits:
		return http.StatusPaymentRequired, errorResponse{Error: "insufficient credits", Code: code}
	case chat.CodeExhausted:
		return http.StatusServiceUnavailable, errorResponse{Error: "model temporarily unavailable, please retry", Code: code, Retryable: true}
	case chat.CodeNoProvider:
		return http.StatusServiceUnavailable, errorResponse{Error: "no provider configured for this model", Code: code}
	case chat.CodeModelNotFound:
		return http.StatusNotFound, errorResponse{Error: "model not found", Code: code}
	case chat.CodeModelUnavailable:
		return http.StatusConflict, errorResponse{Error: "model is not available", Code: code}
	case chat.CodeInvalidAmount:
		return http.StatusBadRequest, errorResponse{Error: "amount must be positive", Code: code}
	case chat.CodeValidation:
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		return http.StatusBadRequest, errorResponse{Error: msg, Code: code}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errorResponse{Error: "resource was modified by another request"}
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return http.StatusGatewayTimeout, errorResponse{Error: "request timed out", Retryable: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: chat.CodeInternal}
	}
}

func isTimeout(err error) bool {
	var te *resilience.TimeoutError
	return errors.As(err, &te)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err, "status", status)
	}
	writeJSON(w, status, body)
}
