package webhookstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

// pollingStream is a poll-then-data implementation of
// engine.NewEventStream/engine.RecoverEventStream: it runs one poll before
// closing ready, so a caller waiting on Ready() is only unblocked once the
// subscription is live, then keeps polling on an interval for as long as ctx
// is alive.
type pollingStream struct {
	ready  chan struct{}
	events chan engine.WebhookEvent
}

func (s *pollingStream) Ready() <-chan struct{}              { return s.ready }
func (s *pollingStream) Events() <-chan engine.WebhookEvent { return s.events }

// pollFunc runs one poll iteration against db and returns the rows it found.
type pollFunc func(ctx context.Context, db *sql.DB) ([]engine.WebhookEvent, error)

func newPollingStream(ctx context.Context, db *sql.DB, interval time.Duration, poll pollFunc, onError func(error)) *pollingStream {
	s := &pollingStream{
		ready:  make(chan struct{}),
		events: make(chan engine.WebhookEvent, 256),
	}
	go s.run(ctx, db, interval, poll, onError)
	return s
}

func (s *pollingStream) run(ctx context.Context, db *sql.DB, interval time.Duration, poll pollFunc, onError func(error)) {
	defer close(s.events)

	s.pollOnce(ctx, db, poll, onError)
	close(s.ready)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, db, poll, onError)
		}
	}
}

func (s *pollingStream) pollOnce(ctx context.Context, db *sql.DB, poll pollFunc, onError func(error)) {
	events, err := poll(ctx, db)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	for _, e := range events {
		select {
		case s.events <- e:
		case <-ctx.Done():
			return
		}
	}
}

// scanEvents reads the common (webhook_id, event_id, payload, headers,
// content_type) row shape shared by the new-event claim query and the
// delivering-event recovery query.
func scanEvents(rows *sql.Rows) ([]engine.WebhookEvent, error) {
	defer rows.Close()
	var out []engine.WebhookEvent
	for rows.Next() {
		var e engine.WebhookEvent
		var headersBlob []byte
		if err := rows.Scan(&e.WebhookID, &e.EventID, &e.Payload, &headersBlob, &e.ContentType); err != nil {
			return nil, err
		}
		if len(headersBlob) > 0 {
			if err := json.Unmarshal(headersBlob, &e.Headers); err != nil {
				return nil, err
			}
		}
		e.Status = engine.EventDelivering
		out = append(out, e)
	}
	return out, rows.Err()
}
