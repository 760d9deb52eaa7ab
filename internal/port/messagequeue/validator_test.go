package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{"usage ok", SubjectUsageRecorded, `{"user_id":"u1","model_id":"gpt-4o","input_tokens":12,"output_tokens":3,"cost":"0.00006","messages":1}`, ""},
		{"usage missing model", SubjectUsageRecorded, `{"user_id":"u1"}`, "model_id is required"},
		{"usage wrong type", SubjectUsageRecorded, `{"user_id":"u1","model_id":"m","input_tokens":"many"}`, "schema validation failed"},
		{"consumed ok", SubjectCreditsConsumed, `{"user_id":"u1","transaction_id":"t1","amount":5,"balance_after":10}`, ""},
		{"consumed missing tx", SubjectCreditsConsumed, `{"user_id":"u1","amount":5}`, "transaction_id is required"},
		{"added ok", SubjectCreditsAdded, `{"user_id":"u1","transaction_id":"t1","type":"grant","amount":5,"balance_after":5}`, ""},
		{"accounting failed ok", SubjectAccountingFailed, `{"user_id":"u1","model_id":"m","op":"consume","error":"db down"}`, ""},
		{"accounting failed missing op", SubjectAccountingFailed, `{"user_id":"u1"}`, "op is required"},
		{"dlq accepts any json", SubjectUsageRecorded + DLQSuffix, `{"anything":true}`, ""},
		{"unknown subject", "unknown.subject", `{"foo":"bar"}`, ""},
		{"invalid json", SubjectUsageRecorded, `{not valid json`, "invalid JSON"},
		{"invalid json on unknown subject", "unknown.subject", `nope`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
