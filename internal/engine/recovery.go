package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Recovery replays the persisted retry checkpoint at startup, then
// streams events left in Delivering status from a prior run's crash and
// routes them back into retrying.
//
// Bring-up error handling follows a classify-and-continue style rather
// than fail-fast; RetryStates are rebuilt from the checkpoint instead of
// starting cold.
type Recovery struct {
	stateRepo   WebhookStateRepo
	webhooks    WebhookRepo
	events      WebhookEventRepo
	state       *InternalState
	errs        *ErrorBus
	retryConfig RetryConfig
	newRetries  chan<- NewRetry
}

// NewRecovery wires a Recovery's collaborators.
func NewRecovery(
	stateRepo WebhookStateRepo,
	webhooks WebhookRepo,
	events WebhookEventRepo,
	state *InternalState,
	errs *ErrorBus,
	retryConfig RetryConfig,
	newRetries chan<- NewRetry,
) *Recovery {
	return &Recovery{
		stateRepo:   stateRepo,
		webhooks:    webhooks,
		events:      events,
		state:       state,
		errs:        errs,
		retryConfig: retryConfig,
		newRetries:  newRetries,
	}
}

// Run replays the persisted checkpoint, then subscribes to the event
// repository's Delivering stream. ready is closed once that subscription
// is observably live, satisfying Lifecycle's startup barrier; shutdown
// terminates the stream drain.
func (r *Recovery) Run(ctx context.Context, ready chan<- struct{}, shutdown <-chan struct{}) {
	r.recoverPersistedState(ctx)

	stream := r.events.RecoverEvents(ctx)

	select {
	case <-stream.Ready():
	case <-shutdown:
		return
	}
	close(ready)

	for {
		select {
		case <-shutdown:
			return
		case e, ok := <-stream.Events():
			if !ok {
				return
			}
			r.routeDeliveringEvent(ctx, e)
		}
	}
}

// recoverPersistedState fetches and parses the durable checkpoint blob, and
// rebuilds one RetryState per persisted entry. A missing blob is treated as
// an empty state; a parse failure is published as an InvalidStateError and
// also treated as empty.
func (r *Recovery) recoverPersistedState(ctx context.Context) {
	blob, ok, err := r.stateRepo.GetState(ctx)
	if err != nil {
		r.errs.Publish(ErrorRecord{Op: "recovery", Err: &IOError{Op: "getState", Cause: err}})
		return
	}
	if !ok {
		return
	}

	var persisted PersistentServerState
	if err := json.Unmarshal(blob, &persisted); err != nil {
		r.errs.Publish(ErrorRecord{Op: "recovery", Err: &InvalidStateError{Cause: err}})
		return
	}

	for webhookID, entry := range persisted.RetryingStates {
		rs := NewRecoveredRetryState(webhookID, r.retryConfig, entry)
		rs.SetActiveWithTimeout(time.Now(), func() {
			markWebhookUnavailable(ctx, r.webhooks, r.events, r.state, r.errs, webhookID)
		})
		r.state.Update(webhookID, RetryingState(rs))
		r.offerNewRetry(webhookID, rs)
	}
}

// routeDeliveringEvent implements the recovery stream's per-event routing:
// events left Delivering by a crashed prior run go back to the retry queue
// of an available webhook, promoting it into Retrying if needed.
func (r *Recovery) routeDeliveringEvent(ctx context.Context, e WebhookEvent) {
	webhook, err := r.webhooks.RequireWebhook(ctx, e.WebhookID)
	if err != nil {
		r.errs.Publish(ErrorRecord{Op: "recovery", WebhookID: e.WebhookID, Err: err})
		return
	}
	if webhook.Availability != WebhookAvailable {
		return
	}

	st, ok := r.state.Get(webhook.ID)
	if ok && st.Kind == StateRetrying && st.Retry != nil {
		st.Retry.EnqueueAll([]WebhookEvent{e})
		return
	}

	rs := NewRetryState(webhook.ID, r.retryConfig)
	rs.SetActiveWithTimeout(time.Now(), func() {
		markWebhookUnavailable(ctx, r.webhooks, r.events, r.state, r.errs, webhook.ID)
	})
	rs.EnqueueAll([]WebhookEvent{e})
	r.state.Update(webhook.ID, RetryingState(rs))
	r.offerNewRetry(webhook.ID, rs)
}

func (r *Recovery) offerNewRetry(webhookID string, rs *RetryState) {
	select {
	case r.newRetries <- NewRetry{WebhookID: webhookID, State: rs}:
	default:
		r.errs.Publish(ErrorRecord{Op: "recovery", WebhookID: webhookID, Err: errNewRetriesFull})
	}
}
