// Package notifier defines the operator alert port (interface).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of an alert.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Field is one labelled value shown with an alert. Order is preserved.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Alert is the payload sent through a Notifier.
type Alert struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   Level   `json:"level"`
	Source  string  `json:"source"` // event subject, e.g. "accounting.failed"
	Fields  []Field `json:"fields,omitempty"`
}

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Send delivers an alert.
	Send(ctx context.Context, alert Alert) error
}
