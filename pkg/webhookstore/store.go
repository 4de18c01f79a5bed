package webhookstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

// claimNewEventsQuery atomically claims up to a bounded batch of "new"
// events for delivery, marking them "delivering" in the same statement so a
// concurrent poller (or a restarted process) never claims the same row
// twice. FOR UPDATE SKIP LOCKED lets multiple delivery processes poll the
// same table without blocking each other.
const claimNewEventsQuery = `
UPDATE webhook_events
SET status = 'delivering'
WHERE id IN (
	SELECT id FROM webhook_events
	WHERE status = 'new'
	ORDER BY created_at
	LIMIT 200
	FOR UPDATE SKIP LOCKED
)
RETURNING webhook_id, event_id, payload, headers, content_type
`

// recoverDeliveringEventsQuery re-reads events left in "delivering" by a
// process that crashed mid-dispatch; it does not reclaim them (they are
// already claimed), just re-surfaces them for Recovery to re-queue.
const recoverDeliveringEventsQuery = `
SELECT webhook_id, event_id, payload, headers, content_type
FROM webhook_events
WHERE status = 'delivering'
ORDER BY created_at
LIMIT 1000
`

// Store implements engine.WebhookRepo and engine.WebhookEventRepo against
// PostgreSQL. Shaped after a PostgresStorage:
// a primary/replica ConnectionManager, context-scoped queries, lib/pq.
type Store struct {
	conn         *ConnectionManager
	pollInterval time.Duration
	onPollError  func(error)
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithPollErrorHandler routes background poll errors (e.g. a transient
// connection blip) somewhere other than silent drop; the engine wires this
// to its ErrorBus.
func WithPollErrorHandler(f func(error)) Option {
	return func(s *Store) { s.onPollError = f }
}

// New builds a Store over an already-connected ConnectionManager.
func New(conn *ConnectionManager, pollInterval time.Duration, opts ...Option) *Store {
	s := &Store{conn: conn, pollInterval: pollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequireWebhook implements engine.WebhookRepo.
func (s *Store) RequireWebhook(ctx context.Context, id string) (engine.Webhook, error) {
	const query = `
SELECT id, url, batching, semantics, availability, content_type, secret
FROM webhooks
WHERE id = $1
`
	var w engine.Webhook
	var batching, semantics, availability string
	err := s.conn.Replica().QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.URL, &batching, &semantics, &availability, &w.ContentType, &w.Secret,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Webhook{}, &engine.MissingWebhookError{WebhookID: id}
	}
	if err != nil {
		return engine.Webhook{}, fmt.Errorf("webhookstore: require webhook %q: %w", id, err)
	}
	w.Mode = engine.DeliveryMode{Batching: engine.Batching(batching), Semantics: engine.Semantics(semantics)}
	w.Availability = engine.WebhookAvailability(availability)
	return w, nil
}

// SetWebhookStatus implements engine.WebhookRepo.
func (s *Store) SetWebhookStatus(ctx context.Context, id string, status engine.WebhookAvailability) error {
	const query = `UPDATE webhooks SET availability = $1, updated_at = now() WHERE id = $2`
	res, err := s.conn.Primary().ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("webhookstore: set webhook status %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.MissingWebhookError{WebhookID: id}
	}
	return nil
}

// SubscribeToNewEvents implements engine.WebhookEventRepo. Each poll claims
// and marks "delivering" any events still "new", so at-most-one delivery
// process sees a given row.
func (s *Store) SubscribeToNewEvents(ctx context.Context) engine.NewEventStream {
	return newPollingStream(ctx, s.conn.Primary(), s.pollInterval, s.pollClaimNew, s.onPollError)
}

// RecoverEvents implements engine.WebhookEventRepo. It re-surfaces events
// already marked "delivering" from a previous process's lifetime, without
// reclaiming anything new.
func (s *Store) RecoverEvents(ctx context.Context) engine.RecoverEventStream {
	return newPollingStream(ctx, s.conn.Replica(), s.pollInterval, s.pollRecoverDelivering, s.onPollError)
}

func (s *Store) pollClaimNew(ctx context.Context, db *sql.DB) ([]engine.WebhookEvent, error) {
	rows, err := db.QueryContext(ctx, claimNewEventsQuery)
	if err != nil {
		return nil, fmt.Errorf("webhookstore: claim new events: %w", err)
	}
	return scanEvents(rows)
}

func (s *Store) pollRecoverDelivering(ctx context.Context, db *sql.DB) ([]engine.WebhookEvent, error) {
	rows, err := db.QueryContext(ctx, recoverDeliveringEventsQuery)
	if err != nil {
		return nil, fmt.Errorf("webhookstore: recover delivering events: %w", err)
	}
	return scanEvents(rows)
}

// SetEventStatus implements engine.WebhookEventRepo.
func (s *Store) SetEventStatus(ctx context.Context, key engine.EventKey, status engine.EventStatus) error {
	const query = `UPDATE webhook_events SET status = $1 WHERE webhook_id = $2 AND event_id = $3`
	res, err := s.conn.Primary().ExecContext(ctx, query, string(status), key.WebhookID, key.EventID)
	if err != nil {
		return fmt.Errorf("webhookstore: set event status %+v: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.MissingEventError{Key: key}
	}
	return nil
}

// SetEventStatusMany implements engine.WebhookEventRepo, updating every key
// in one round trip via a single webhook_id + event_id = ANY(...) pair.
func (s *Store) SetEventStatusMany(ctx context.Context, keys []engine.EventKey, status engine.EventStatus) error {
	if len(keys) == 0 {
		return nil
	}
	webhookIDs := make([]string, len(keys))
	eventIDs := make([]string, len(keys))
	for i, k := range keys {
		webhookIDs[i] = k.WebhookID
		eventIDs[i] = k.EventID
	}
	const query = `
UPDATE webhook_events
SET status = $1
WHERE (webhook_id, event_id) IN (
	SELECT * FROM UNNEST($2::text[], $3::text[])
)
`
	res, err := s.conn.Primary().ExecContext(ctx, query, string(status), pq.Array(webhookIDs), pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("webhookstore: set event status many: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) < len(keys) {
		return &engine.MissingEventsError{Keys: keys}
	}
	return nil
}

// SetAllAsFailedByWebhookID implements engine.WebhookEventRepo, used on the
// unavailable-webhook timeout path to fail out everything still undelivered.
func (s *Store) SetAllAsFailedByWebhookID(ctx context.Context, id string) error {
	const query = `
UPDATE webhook_events
SET status = 'failed'
WHERE webhook_id = $1 AND status != 'delivered'
`
	_, err := s.conn.Primary().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("webhookstore: set all failed for webhook %q: %w", id, err)
	}
	return nil
}

// InsertEvent appends one new event to the queue, used by the ingestion
// surface (pkg/webhookapi) ahead of delivery. Not part of engine.WebhookEventRepo:
// the engine only ever reads events through the poll streams above.
func (s *Store) InsertEvent(ctx context.Context, e engine.WebhookEvent) error {
	headersBlob, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("webhookstore: marshal headers: %w", err)
	}
	const query = `
INSERT INTO webhook_events (webhook_id, event_id, payload, headers, content_type, status, created_at)
VALUES ($1, $2, $3, $4, $5, 'new', now())
ON CONFLICT (webhook_id, event_id) DO NOTHING
`
	_, err = s.conn.Primary().ExecContext(ctx, query, e.WebhookID, e.EventID, e.Payload, headersBlob, e.ContentType)
	if err != nil {
		return fmt.Errorf("webhookstore: insert event %+v: %w", e.Key(), err)
	}
	return nil
}

// Close releases the underlying connection pools.
func (s *Store) Close() error {
	return s.conn.Close()
}
