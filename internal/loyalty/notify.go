package loyalty

import (
	"context"
	"errors"
	"log/slog"
)

// LogNotifier writes claim acknowledgements to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, n.Message,
		"kind", n.Kind,
		"session_id", n.SessionID,
		"total_miles", n.TotalMiles,
	)
	return nil
}

// Notifiers fans a notification out to every notifier and joins their errors.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range ns {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
