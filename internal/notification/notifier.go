// Package notification delivers fired alerts to external channels
// (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"alertstream/internal/model"
)

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Notify delivers one trigger event. Returns error if delivery fails.
	Notify(ctx context.Context, ev model.TriggerEvent) error
}

// Format renders a trigger event as a short human-readable message.
func Format(ev model.TriggerEvent) string {
	switch ev.AlertType {
	case model.AlertPrice:
		return fmt.Sprintf("%s:%s crossed %s %.2f (last %.2f)",
			ev.Symbol, ev.Exchange, ev.Direction, ev.AlertPrice, ev.CurrentPrice)
	case model.AlertIndicator:
		return fmt.Sprintf("%s:%s %s %s", ev.Symbol, ev.Exchange, ev.Indicator, ev.Condition)
	default:
		return fmt.Sprintf("%s:%s alert %s fired", ev.Symbol, ev.Exchange, ev.AlertID)
	}
}

// LogNotifier writes fired alerts to the structured log. Always wired in
// so every fire leaves a trace even with no external backend configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, ev model.TriggerEvent) error {
	n.log.Info("alert fired",
		"id", ev.AlertID, "symbol", ev.Symbol, "exchange", ev.Exchange,
		"type", ev.AlertType, "condition", ev.Condition, "message", Format(ev))
	return nil
}

// Multi fans one event out to every backend. Failures are logged per
// backend; one failing channel never blocks the others.
type Multi struct {
	backends []Notifier
	log      *slog.Logger
}

func NewMulti(log *slog.Logger, backends ...Notifier) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{backends: backends, log: log}
}

func (m *Multi) Notify(ctx context.Context, ev model.TriggerEvent) error {
	for _, n := range m.backends {
		if err := n.Notify(ctx, ev); err != nil {
			m.log.Error("notification delivery failed", "alert", ev.AlertID, "err", err)
		}
	}
	return nil
}
