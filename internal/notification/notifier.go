// Package notification delivers refresh-failure and order alerts to
// external channels (Telegram, webhooks).
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them, useful when no
// channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("alert", "level", alert.Level, "title", alert.Title, "message", alert.Message)
	return nil
}

// Multi fans one alert out to several backends and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig assembles a notifier from the configured channels. With
// nothing configured, alerts only hit the log.
func FromConfig(webhookURL, telegramBotToken, telegramChatID string) Notifier {
	var m Multi
	if webhookURL != "" {
		m = append(m, NewWebhookNotifier(webhookURL))
	}
	if telegramBotToken != "" && telegramChatID != "" {
		m = append(m, NewTelegramNotifier(telegramBotToken, telegramChatID))
	}
	if len(m) == 0 {
		return NewLogNotifier()
	}
	return m
}
