package service

import (
	"log/slog"

	"inboxsync/internal/event"
)

// Notifier delivers push-channel envelopes to every live connection of the
// given users. Delivery is best effort.
type Notifier interface {
	Notify(userIDs []string, env event.Envelope)
}

type nopNotifier struct{}

func (nopNotifier) Notify([]string, event.Envelope) {}

func notify(n Notifier, logger *slog.Logger, userIDs []string, t event.Type, convID string, payload any) {
	if len(userIDs) == 0 {
		return
	}
	env, err := event.New(t, convID, payload)
	if err != nil {
		logger.Error("encode event", "type", t, "error", err)
		return
	}
	n.Notify(userIDs, env)
}

func others(ids []string, except string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}
