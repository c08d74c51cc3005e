package webhook

import (
	"context"
	"time"

	"github.com/wondertwin-ai/safmiles/internal/loyalty"
)

// Notifier queues claim acknowledgements on a Dispatcher.
type Notifier struct {
	Dispatcher *Dispatcher
}

// Notify implements loyalty.Notifier. Delivery happens on flush or in the
// background, so Notify never blocks on the receiver.
func (n Notifier) Notify(_ context.Context, note loyalty.Notification) error {
	n.Dispatcher.Enqueue(note.Kind, map[string]any{
		"session_id":  note.SessionID,
		"message":     note.Message,
		"total_miles": note.TotalMiles,
		"claimed_at":  note.ClaimedAt.UTC().Format(time.RFC3339),
	})
	return nil
}
