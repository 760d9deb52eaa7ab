package discord

import "github.com/alextavares/aichat-sub001/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(s notifier.Settings) (notifier.Notifier, error) {
		return NewNotifier(s.WebhookURL), nil
	})
}
