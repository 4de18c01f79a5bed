package engine

import (
	"context"
	"time"
)

// Deliverer posts one dispatch, classifies the outcome against the
// webhook's delivery semantics, and either closes out the events or
// promotes the webhook into Retrying.
//
// Status-code dispatch and swallow-and-log error handling, generalized to
// a semantics-driven state machine keyed on delivery mode.
type Deliverer struct {
	state       *InternalState
	webhooks    WebhookRepo
	events      WebhookEventRepo
	client      WebhookHttpClient
	errs        *ErrorBus
	limiter     *RateLimiter
	retryConfig RetryConfig
	newRetries  chan<- NewRetry
}

// NewRetry is offered to retry-monitoring whenever a webhook is freshly
// promoted into Retrying, so a RetryDispatcher can be spawned for it.
type NewRetry struct {
	WebhookID string
	State     *RetryState
}

// NewDeliverer wires a Deliverer's collaborators. newRetries must be large
// enough, or drained promptly enough, that offering to it never becomes the
// bottleneck in the delivery hot path; retry-monitoring owns draining it.
func NewDeliverer(
	state *InternalState,
	webhooks WebhookRepo,
	events WebhookEventRepo,
	client WebhookHttpClient,
	errs *ErrorBus,
	limiter *RateLimiter,
	retryConfig RetryConfig,
	newRetries chan<- NewRetry,
) *Deliverer {
	return &Deliverer{
		state:       state,
		webhooks:    webhooks,
		events:      events,
		client:      client,
		errs:        errs,
		limiter:     limiter,
		retryConfig: retryConfig,
		newRetries:  newRetries,
	}
}

// Deliver posts dispatch and resolves the outcome. Any error encountered is
// published to the error bus and swallowed: the delivery path never panics
// or returns an error to its caller.
func (d *Deliverer) Deliver(ctx context.Context, webhook Webhook, dispatch WebhookDispatch) {
	defer func() {
		if r := recover(); r != nil {
			d.errs.Publish(ErrorRecord{Op: "deliver", WebhookID: webhook.ID, Err: panicError(r)})
		}
	}()

	if d.limiter != nil && !d.limiter.Allow(webhook.ID) {
		d.errs.Publish(ErrorRecord{Op: "throttle", WebhookID: webhook.ID, Err: errThrottled})
		d.requeueAsRetrying(ctx, webhook, dispatch.Events)
		return
	}

	d.markStatus(ctx, dispatch.Events, EventDelivering)

	resp := d.client.Post(ctx, dispatch)

	switch {
	case resp.Success():
		d.markStatus(ctx, dispatch.Events, EventDelivered)

	case dispatch.Semantics == AtMostOnce:
		d.markStatus(ctx, dispatch.Events, EventFailed)

	default: // AtLeastOnce, non-200 or transport failure
		d.requeueAsRetrying(ctx, webhook, dispatch.Events)
	}
}

// DeliverNewEvent fetches the webhook for event and, if available, wraps it
// in a size-1 dispatch and delivers it. This is the entry point for events
// arriving off the new-event subscription when no batching is configured.
func (d *Deliverer) DeliverNewEvent(ctx context.Context, event WebhookEvent) {
	webhook, err := d.webhooks.RequireWebhook(ctx, event.WebhookID)
	if err != nil {
		d.errs.Publish(ErrorRecord{Op: "deliver", WebhookID: event.WebhookID, Err: err})
		return
	}
	if webhook.Availability != WebhookAvailable {
		return
	}
	d.Deliver(ctx, webhook, NewDispatch(webhook, []WebhookEvent{event}))
}

// requeueAsRetrying implements the AtLeastOnce non-200 branch of Deliver:
// promote (or reuse) the webhook's Retrying state and enqueue events.
func (d *Deliverer) requeueAsRetrying(ctx context.Context, webhook Webhook, events []WebhookEvent) {
	st, ok := d.state.Get(webhook.ID)
	if ok && st.Kind == StateRetrying && st.Retry != nil {
		st.Retry.SetActiveWithTimeout(time.Now(), func() { d.markWebhookUnavailable(ctx, webhook.ID) })
		st.Retry.EnqueueAll(events)
		return
	}

	rs := NewRetryState(webhook.ID, d.retryConfig)
	rs.SetActiveWithTimeout(time.Now(), func() { d.markWebhookUnavailable(ctx, webhook.ID) })
	rs.EnqueueAll(events)
	d.state.Update(webhook.ID, RetryingState(rs))

	select {
	case d.newRetries <- NewRetry{WebhookID: webhook.ID, State: rs}:
	default:
		// retry-monitoring is expected to keep pace; if it is
		// momentarily behind, the dispatcher will still be spawned
		// once it drains the backlog and discovers this entry via
		// InternalState, so a dropped offer here is not a lost retry.
		d.errs.Publish(ErrorRecord{Op: "deliver", WebhookID: webhook.ID, Err: errNewRetriesFull})
	}
}

// markWebhookUnavailable handles the timeout branch: it runs when the
// RetryState's timeout elapses before a successful delivery, and demotes
// the webhook to Unavailable.
func (d *Deliverer) markWebhookUnavailable(ctx context.Context, id string) {
	markWebhookUnavailable(ctx, d.webhooks, d.events, d.state, d.errs, id)
}

func (d *Deliverer) markStatus(ctx context.Context, events []WebhookEvent, status EventStatus) {
	setEventStatus(ctx, d.events, d.errs, "deliver", events, status)
}
