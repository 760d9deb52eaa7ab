package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects and dead-letter
// subjects only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if strings.HasSuffix(subject, DLQSuffix) {
		return nil
	}

	var (
		target   any
		required func() string
	)
	switch subject {
	case SubjectUsageRecorded:
		p := &UsageRecordedPayload{}
		target, required = p, func() string { return firstMissing("user_id", p.UserID, "model_id", p.ModelID) }
	case SubjectCreditsConsumed:
		p := &CreditsConsumedPayload{}
		target, required = p, func() string { return firstMissing("user_id", p.UserID, "transaction_id", p.TransactionID) }
	case SubjectCreditsAdded:
		p := &CreditsAddedPayload{}
		target, required = p, func() string { return firstMissing("user_id", p.UserID, "transaction_id", p.TransactionID) }
	case SubjectAccountingFailed:
		p := &AccountingFailedPayload{}
		target, required = p, func() string { return firstMissing("user_id", p.UserID, "op", p.Op) }
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if field := required(); field != "" {
		return fmt.Errorf("schema validation failed for %s: %s is required", subject, field)
	}
	return nil
}

// firstMissing takes name/value pairs and returns the first name whose value
// is empty.
func firstMissing(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return pairs[i]
		}
	}
	return ""
}
