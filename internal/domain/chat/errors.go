package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
)

// Re-exported catalog resolution failures.
var (
	ErrModelNotFound    = catalog.ErrModelNotFound
	ErrModelUnavailable = catalog.ErrModelUnavailable
)

// ErrInsufficientCredits is returned when a debit exceeds the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidAmount is returned for non-positive ledger amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrNoProvider is returned when no configured adapter can reach a model.
var ErrNoProvider = errors.New("no configured provider can serve model")

// BackendError is a failure reported by, or while talking to, a backend.
// Retryable is decided by the adapter that produced it.
type BackendError struct {
	Backend   catalog.Backend
	Status    int    // HTTP status, 0 for transport or decode failures
	Code      string // backend error code/type when available
	Message   string
	Retryable bool
	Err       error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Backend))
	b.WriteString(" backend error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsRetryable implements the retry classifier contract.
func (e *BackendError) IsRetryable() bool { return e.Retryable }

// ExhaustedError reports that every candidate backend failed. Err is the
// primary backend's error.
type ExhaustedError struct {
	Model     string
	Attempted []catalog.Backend
	Err       error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, len(e.Attempted))
	for i, b := range e.Attempted {
		names[i] = string(b)
	}
	return fmt.Sprintf("all providers exhausted for %s (tried %s): %v", e.Model, strings.Join(names, ", "), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// QuotaDeniedError is an admission refusal.
type QuotaDeniedError struct {
	Reason string
}

func (e *QuotaDeniedError) Error() string { return "quota denied: " + e.Reason }

// AccountingError reports a usage or ledger write that failed after content
// was produced. Callers may still show the content.
type AccountingError struct {
	Op  string
	Err error
}

func (e *AccountingError) Error() string { return "accounting " + e.Op + ": " + e.Err.Error() }

func (e *AccountingError) Unwrap() error { return e.Err }

// IsRetryable reports whether err (or anything it wraps) is classified as
// retryable. Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Client-facing error codes.
const (
	CodeQuotaDenied         = "quota_denied"
	CodeInsufficientCredits = "insufficient_credits"
	CodeExhausted           = "providers_exhausted"
	CodeNoProvider          = "no_provider"
	CodeModelNotFound       = "model_not_found"
	CodeModelUnavailable    = "model_unavailable"
	CodeInvalidAmount       = "invalid_amount"
	CodeValidation          = "validation"
	CodeAccounting          = "accounting_failed"
	CodeInternal            = "internal"
)

// Code classifies err for clients. Anything unrecognised is CodeInternal.
func Code(err error) string {
	var (
		denied    *QuotaDeniedError
		exhausted *ExhaustedError
		acc       *AccountingError
	)
	switch {
	case errors.As(err, &denied):
		return CodeQuotaDenied
	case errors.As(err, &acc):
		return CodeAccounting
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.As(err, &exhausted):
		return CodeExhausted
	case errors.Is(err, ErrNoProvider):
		return CodeNoProvider
	case errors.Is(err, ErrModelNotFound):
		return CodeModelNotFound
	case errors.Is(err, ErrModelUnavailable):
		return CodeModelUnavailable
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}
