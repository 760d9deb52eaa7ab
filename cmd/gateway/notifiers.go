package main

// Notifier blank imports: each import registers an alert channel.

import (
	"fmt"

	_ "github.com/alextavares/aichat-sub001/internal/adapter/discord"
	_ "github.com/alextavares/aichat-sub001/internal/adapter/slack"
	"github.com/alextavares/aichat-sub001/internal/config"
	"github.com/alextavares/aichat-sub001/internal/port/notifier"
)

// buildAlerts returns the configured alert channel, or nil when alerting is
// off.
func buildAlerts(cfg config.Alerts) (notifier.Notifier, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	n, err := notifier.New(cfg.Provider, notifier.Settings{WebhookURL: cfg.WebhookURL})
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	return n, nil
}
