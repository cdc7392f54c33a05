package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs alerts without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, subject, message string) error {
	n.logger.Info().
		Str("subject", subject).
		Str("message", message).
		Msg("[DRY-RUN] Would notify")
	return nil
}
