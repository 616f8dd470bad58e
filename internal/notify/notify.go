// Package notify pushes patch approval requests and terminal heal
// outcomes to human reviewers. Delivery is best effort: a channel being
// down never blocks or fails the heal pipeline.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers one human-facing message.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, subject, body string) error
}

// Multi fans a notification out to every configured channel.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Add appends a channel.
func (m *Multi) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Notify delivers to every channel, logging failures instead of
// propagating them.
func (m *Multi) Notify(ctx context.Context, subject, body string) {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, subject, body); err != nil {
			m.logger.Warn("notification failed",
				zap.String("channel", n.Name()), zap.Error(err))
		}
	}
}
