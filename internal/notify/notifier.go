package notify

import "context"

// Notifier delivers rollback and error alerts to external channels.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}
