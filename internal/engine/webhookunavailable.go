package engine

import "context"

// markWebhookUnavailable implements the shared tail of the timeout and
// recovery paths:
// mark every pending event of id Failed, move its external status to
// Unavailable, and reflect that in InternalState. Both Deliverer (on
// RetryState timeout) and Recovery (on a recovered RetryState's timeout)
// install this as their onTimeout callback.
func markWebhookUnavailable(ctx context.Context, webhooks WebhookRepo, events WebhookEventRepo, state *InternalState, errs *ErrorBus, id string) {
	if err := events.SetAllAsFailedByWebhookID(ctx, id); err != nil {
		errs.Publish(ErrorRecord{Op: "deliver", WebhookID: id, Err: err})
	}
	if err := webhooks.SetWebhookStatus(ctx, id, WebhookUnavailable); err != nil {
		errs.Publish(ErrorRecord{Op: "deliver", WebhookID: id, Err: err})
	}
	state.Update(id, UnavailableState())
}
