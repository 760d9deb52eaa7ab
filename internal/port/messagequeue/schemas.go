package messagequeue

import "time"

// UsageRecordedPayload is the schema for usage.recorded messages.
type UsageRecordedPayload struct {
	UserID       string    `json:"user_id"`
	ModelID      string    `json:"model_id"`
	Backend      string    `json:"backend,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         string    `json:"cost"`
	Estimated    bool      `json:"estimated,omitempty"`
	Messages     int64     `json:"messages"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CreditsConsumedPayload is the schema for credits.consumed messages.
type CreditsConsumedPayload struct {
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
	Description   string `json:"description,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
}

// CreditsAddedPayload is the schema for credits.added messages.
type CreditsAddedPayload struct {
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
}

// AccountingFailedPayload is the schema for accounting.failed messages.
// It carries enough to reconcile the missed write offline.
type AccountingFailedPayload struct {
	UserID       string `json:"user_id"`
	ModelID      string `json:"model_id"`
	Op           string `json:"op"`
	Error        string `json:"error"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Credits      int64  `json:"credits,omitempty"`
}
