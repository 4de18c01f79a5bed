package engine

import "context"

// setEventStatus updates the status of one or many events, publishing any
// repo failure to the error bus under op rather than returning it: status
// updates are best-effort observability, never a reason to abort a
// delivery or retry path.
func setEventStatus(ctx context.Context, repo WebhookEventRepo, errs *ErrorBus, op string, events []WebhookEvent, status EventStatus) {
	if len(events) == 1 {
		if err := repo.SetEventStatus(ctx, events[0].Key(), status); err != nil {
			errs.Publish(ErrorRecord{Op: op, WebhookID: events[0].WebhookID, Err: err})
		}
		return
	}

	keys := make([]EventKey, len(events))
	for i, e := range events {
		keys[i] = e.Key()
	}
	if err := repo.SetEventStatusMany(ctx, keys, status); err != nil {
		errs.Publish(ErrorRecord{Op: op, Err: err})
	}
}
