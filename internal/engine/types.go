package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the delivery status of a WebhookEvent.
type EventStatus string

const (
	EventNew        EventStatus = "new"
	EventDelivering EventStatus = "delivering"
	EventDelivered  EventStatus = "delivered"
	EventFailed     EventStatus = "failed"
)

// Batching selects whether events for a webhook are grouped into multi-event
// dispatches or delivered one event per dispatch.
type Batching string

const (
	Single  Batching = "single"
	Batched Batching = "batched"
)

// Semantics selects what happens to an event after a non-200 delivery.
type Semantics string

const (
	AtMostOnce  Semantics = "at_most_once"
	AtLeastOnce Semantics = "at_least_once"
)

// DeliveryMode bundles a webhook's batching and semantics settings.
type DeliveryMode struct {
	Batching  Batching
	Semantics Semantics
}

// WebhookAvailability is the external status of a webhook, independent of
// its in-memory WebhookState.
type WebhookAvailability string

const (
	WebhookAvailable   WebhookAvailability = "available"
	WebhookUnavailable WebhookAvailability = "unavailable"
	WebhookDisabled    WebhookAvailability = "disabled"
)

// Webhook is the external webhook metadata this engine delivers to.
type Webhook struct {
	ID           string
	URL          string
	Mode         DeliveryMode
	Availability WebhookAvailability
	ContentType  string // default content-type for single-mode dispatches
	Secret       string // HMAC signing secret; empty means unsigned requests
}

// EventKey identifies one WebhookEvent uniquely.
type EventKey struct {
	WebhookID string
	EventID   string
}

// WebhookEvent is one outbound event addressed to a webhook.
type WebhookEvent struct {
	WebhookID   string
	EventID     string
	Payload     []byte
	Headers     map[string]string
	ContentType string
	Status      EventStatus
}

// Key returns the event's identity for in-flight/queue bookkeeping.
func (e WebhookEvent) Key() EventKey {
	return EventKey{WebhookID: e.WebhookID, EventID: e.EventID}
}

// BatchKey groups events that may be combined into one WebhookDispatch.
// Two events batch together iff their BatchKeys are equal.
type BatchKey struct {
	WebhookID   string
	ContentType string
}

func batchKeyOf(webhookID string, e WebhookEvent) BatchKey {
	return BatchKey{WebhookID: webhookID, ContentType: e.ContentType}
}

// WebhookDispatch is a non-empty, immutable batch of events for one
// webhook, carrying the webhook's URL and semantics. Events retain
// construction order.
type WebhookDispatch struct {
	ID        string
	WebhookID string
	URL       string
	Secret    string
	Semantics Semantics
	Events    []WebhookEvent
}

// NewDispatch constructs a dispatch from a non-empty, ordered event slice.
// Panics on an empty slice: callers (Deliverer, Batcher, RetryDispatcher)
// must never offer an empty batch, per spec invariant "Size >= 1".
func NewDispatch(webhook Webhook, events []WebhookEvent) WebhookDispatch {
	if len(events) == 0 {
		panic("engine: NewDispatch called with zero events")
	}
	ordered := make([]WebhookEvent, len(events))
	copy(ordered, events)
	return WebhookDispatch{
		ID:        uuid.NewString(),
		WebhookID: webhook.ID,
		URL:       webhook.URL,
		Secret:    webhook.Secret,
		Semantics: webhook.Mode.Semantics,
		Events:    ordered,
	}
}

// DispatchResponse is what the HTTP client returns for one POST.
type DispatchResponse struct {
	StatusCode int  // 0 when Transport is true
	Transport  bool // true on network/transport failure (no status code)
}

// Success reports whether the response counts as a successful delivery.
func (r DispatchResponse) Success() bool {
	return !r.Transport && r.StatusCode == 200
}

// PersistedRetryEntry is one webhook's row in PersistentServerState.
type PersistedRetryEntry struct {
	SinceTime     time.Time     `json:"sinceTime"`
	LastRetryTime time.Time     `json:"lastRetryTime"`
	TimeLeft      time.Duration `json:"timeLeft"`
	Backoff       time.Duration `json:"backoff"`
	Attempt       int           `json:"attempt"`
}

// PersistentServerState is the durable checkpoint written at shutdown and
// read back by Recovery at startup. No queues are persisted; events are
// recovered from the event repository.
type PersistentServerState struct {
	RetryingStates map[string]PersistedRetryEntry `json:"retryingStates"`
}
