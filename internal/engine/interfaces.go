package engine

import "context"

// WebhookRepo is the engine's view of webhook metadata storage.
// Implemented by pkg/webhookstore against Postgres.
type WebhookRepo interface {
	// RequireWebhook fetches a webhook by id, or returns *MissingWebhookError.
	RequireWebhook(ctx context.Context, id string) (Webhook, error)
	// SetWebhookStatus updates a webhook's external availability.
	SetWebhookStatus(ctx context.Context, id string, status WebhookAvailability) error
}

// NewEventStream and RecoverEventStream are polling-observable streams: the
// first receive on Ready happens once the subscription is live, before any
// data is produced, so a caller can signal a startup barrier without racing
// the first event.
type NewEventStream interface {
	Ready() <-chan struct{}
	Events() <-chan WebhookEvent
}

type RecoverEventStream interface {
	Ready() <-chan struct{}
	Events() <-chan WebhookEvent
}

// WebhookEventRepo is the engine's view of event storage.
// Implemented by pkg/webhookstore against Postgres.
type WebhookEventRepo interface {
	SubscribeToNewEvents(ctx context.Context) NewEventStream
	RecoverEvents(ctx context.Context) RecoverEventStream
	SetEventStatus(ctx context.Context, key EventKey, status EventStatus) error
	SetEventStatusMany(ctx context.Context, keys []EventKey, status EventStatus) error
	SetAllAsFailedByWebhookID(ctx context.Context, id string) error
}

// WebhookHttpClient posts one dispatch and classifies the outcome.
// Implemented by pkg/deliveryclient with resty.
type WebhookHttpClient interface {
	Post(ctx context.Context, dispatch WebhookDispatch) DispatchResponse
}

// WebhookStateRepo persists and retrieves the opaque PersistentServerState
// blob. Implemented by pkg/staterepo (Redis fast-path, S3
// durable copy).
type WebhookStateRepo interface {
	GetState(ctx context.Context) ([]byte, bool, error)
	SetState(ctx context.Context, blob []byte) error
}
