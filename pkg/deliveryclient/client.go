// Package deliveryclient implements engine.WebhookHttpClient: one POST per
// WebhookDispatch, with HMAC request signing and wire-level payload
// formatting. These are concerns the core delivery engine deliberately
// stays ignorant of.
package deliveryclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

// eventPayload is the wire shape of one event within a dispatch body.
type eventPayload struct {
	EventID string          `json:"eventId"`
	Payload json.RawMessage `json:"payload"`
}

// Client posts a WebhookDispatch and classifies the response: a fixed
// header set, HMAC-SHA256 signing over the request body, any status other
// than 200 treated as a failure. Built on resty instead of a bare *http.Client, since this
// module's entire outbound HTTP surface is this one POST-and-classify
// call. resty's request builder and retry-free client are a better fit
// here than hand-rolling http.NewRequestWithContext for a single call site.
type Client struct {
	http      *resty.Client
	eventType string
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithTimeout overrides the client's per-request timeout (default 10s, a
// common default for this kind of client).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New builds a Client ready to deliver dispatches.
func New(opts ...Option) *Client {
	c := &Client{http: resty.New().SetTimeout(10 * time.Second)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post implements engine.WebhookHttpClient.
func (c *Client) Post(ctx context.Context, dispatch engine.WebhookDispatch) engine.DispatchResponse {
	body, contentType, err := encodeBody(dispatch)
	if err != nil {
		return engine.DispatchResponse{Transport: true}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("X-Webhookrelay-Dispatch-Id", dispatch.ID).
		SetHeader("X-Webhookrelay-Event-Count", fmt.Sprintf("%d", len(dispatch.Events))).
		SetHeader("X-Webhookrelay-Delivery", time.Now().UTC().Format(time.RFC3339)).
		SetBody(body)

	if dispatch.Secret != "" {
		req.SetHeader("X-Webhookrelay-Signature", sign(body, dispatch.Secret))
	}

	resp, err := req.Post(dispatch.URL)
	if err != nil {
		return engine.DispatchResponse{Transport: true}
	}
	return engine.DispatchResponse{StatusCode: resp.StatusCode()}
}

// encodeBody builds the wire payload for a dispatch: a single event's raw
// payload when Size == 1, or a JSON array of {eventId, payload} for a
// batched dispatch, always returning the content-type the body was
// serialized as.
func encodeBody(dispatch engine.WebhookDispatch) ([]byte, string, error) {
	if len(dispatch.Events) == 1 {
		e := dispatch.Events[0]
		ct := e.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return e.Payload, ct, nil
	}

	batch := make([]eventPayload, len(dispatch.Events))
	for i, e := range dispatch.Events {
		batch[i] = eventPayload{EventID: e.EventID, Payload: json.RawMessage(e.Payload)}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, "", fmt.Errorf("deliveryclient: marshal batch: %w", err)
	}
	return body, "application/json", nil
}

// sign computes the HMAC-SHA256 signature of body under secret, in the same
// "sha256=<hex>" shape most webhook providers expect.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
