package engine

import (
	"context"
	"testing"
	"time"
)

type fakeWebhookRepo struct {
	webhooks map[string]Webhook
	statuses map[string]WebhookAvailability
}

func newFakeWebhookRepo(webhooks ...Webhook) *fakeWebhookRepo {
	r := &fakeWebhookRepo{webhooks: make(map[string]Webhook), statuses: make(map[string]WebhookAvailability)}
	for _, w := range webhooks {
		r.webhooks[w.ID] = w
	}
	return r
}

func (r *fakeWebhookRepo) RequireWebhook(_ context.Context, id string) (Webhook, error) {
	w, ok := r.webhooks[id]
	if !ok {
		return Webhook{}, &MissingWebhookError{WebhookID: id}
	}
	return w, nil
}

func (r *fakeWebhookRepo) SetWebhookStatus(_ context.Context, id string, status WebhookAvailability) error {
	r.statuses[id] = status
	return nil
}

type fakeEventRepo struct {
	statuses     map[EventKey]EventStatus
	failedByHook map[string]bool

	newEventsStream *fakeStream
	recoverStream   *fakeStream
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		statuses:        make(map[EventKey]EventStatus),
		failedByHook:    make(map[string]bool),
		newEventsStream: newFakeStream(),
		recoverStream:   newFakeStream(),
	}
}

func (r *fakeEventRepo) SubscribeToNewEvents(context.Context) NewEventStream { return r.newEventsStream }
func (r *fakeEventRepo) RecoverEvents(context.Context) RecoverEventStream   { return r.recoverStream }

func (r *fakeEventRepo) SetEventStatus(_ context.Context, key EventKey, status EventStatus) error {
	r.statuses[key] = status
	return nil
}

func (r *fakeEventRepo) SetEventStatusMany(_ context.Context, keys []EventKey, status EventStatus) error {
	for _, k := range keys {
		r.statuses[k] = status
	}
	return nil
}

func (r *fakeEventRepo) SetAllAsFailedByWebhookID(_ context.Context, id string) error {
	r.failedByHook[id] = true
	return nil
}

type fakeHTTPClient struct {
	responses []DispatchResponse
	calls     int
}

func (c *fakeHTTPClient) Post(context.Context, WebhookDispatch) DispatchResponse {
	resp := c.responses[min(c.calls, len(c.responses)-1)]
	c.calls++
	return resp
}

func newEvent(webhookID, eventID string) WebhookEvent {
	return WebhookEvent{WebhookID: webhookID, EventID: eventID, Status: EventNew}
}

func TestDeliver_SuccessMarksDelivered(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test", Mode: DeliveryMode{Batching: Single, Semantics: AtLeastOnce}}
	events := newFakeEventRepo()
	client := &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 200}}}
	errs := NewErrorBus(4)
	d := NewDeliverer(NewInternalState(), newFakeWebhookRepo(webhook), events, client, errs, nil, testRetryConfig(), make(chan NewRetry, 1))

	evt := newEvent("wh-1", "e1")
	d.Deliver(context.Background(), webhook, NewDispatch(webhook, []WebhookEvent{evt}))

	if got := events.statuses[evt.Key()]; got != EventDelivered {
		t.Fatalf("status = %v, want Delivered", got)
	}
}

func TestDeliver_AtMostOnceFailureMarksFailed(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test", Mode: DeliveryMode{Batching: Single, Semantics: AtMostOnce}}
	events := newFakeEventRepo()
	client := &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 500}}}
	errs := NewErrorBus(4)
	state := NewInternalState()
	d := NewDeliverer(state, newFakeWebhookRepo(webhook), events, client, errs, nil, testRetryConfig(), make(chan NewRetry, 1))

	evt := newEvent("wh-1", "e1")
	d.Deliver(context.Background(), webhook, NewDispatch(webhook, []WebhookEvent{evt}))

	if got := events.statuses[evt.Key()]; got != EventFailed {
		t.Fatalf("status = %v, want Failed", got)
	}
	if _, ok := state.Get("wh-1"); ok {
		t.Fatal("AtMostOnce failure must not create a Retrying state")
	}
}

func TestDeliver_AtLeastOnceFailurePromotesToRetrying(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test", Mode: DeliveryMode{Batching: Single, Semantics: AtLeastOnce}}
	events := newFakeEventRepo()
	client := &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 500}}}
	errs := NewErrorBus(4)
	state := NewInternalState()
	newRetries := make(chan NewRetry, 1)
	d := NewDeliverer(state, newFakeWebhookRepo(webhook), events, client, errs, nil, testRetryConfig(), newRetries)

	evt := newEvent("wh-1", "e1")
	d.Deliver(context.Background(), webhook, NewDispatch(webhook, []WebhookEvent{evt}))

	st, ok := state.Get("wh-1")
	if !ok || st.Kind != StateRetrying {
		t.Fatalf("state = %+v, want Retrying", st)
	}
	defer st.Retry.SetInactive()

	select {
	case nr := <-newRetries:
		if nr.WebhookID != "wh-1" {
			t.Errorf("NewRetry.WebhookID = %q, want wh-1", nr.WebhookID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a NewRetry offer")
	}

	select {
	case got := <-st.Retry.RetryQueue():
		if got.Key() != evt.Key() {
			t.Errorf("requeued event = %+v, want %+v", got, evt)
		}
	default:
		t.Fatal("expected event on retry queue")
	}
}

func TestDeliver_RateLimitedRequeuesWithoutPosting(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test", Mode: DeliveryMode{Batching: Single, Semantics: AtLeastOnce}}
	events := newFakeEventRepo()
	client := &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 200}}}
	errs := NewErrorBus(4)
	state := NewInternalState()
	limiter := NewRateLimiter(1, time.Second)
	// Exhaust the only token for wh-1 up front.
	limiter.Allow("wh-1")

	d := NewDeliverer(state, newFakeWebhookRepo(webhook), events, client, errs, limiter, testRetryConfig(), make(chan NewRetry, 1))

	sub, unsubscribe := errs.Subscribe()
	defer unsubscribe()

	evt := newEvent("wh-1", "e1")
	d.Deliver(context.Background(), webhook, NewDispatch(webhook, []WebhookEvent{evt}))

	if client.calls != 0 {
		t.Fatalf("expected no POST while rate limited, got %d calls", client.calls)
	}
	st, ok := state.Get("wh-1")
	if !ok || st.Kind != StateRetrying {
		t.Fatalf("expected Retrying state after rate-limited delivery, got %+v", st)
	}
	st.Retry.SetInactive()

	select {
	case rec := <-sub:
		if rec.Op != "throttle" || rec.WebhookID != "wh-1" {
			t.Errorf("ErrorRecord = %+v, want Op=throttle WebhookID=wh-1", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a throttle ErrorRecord")
	}
}

func TestDeliverNewEvent_SkipsUnavailableWebhook(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test", Availability: WebhookUnavailable, Mode: DeliveryMode{Semantics: AtLeastOnce}}
	events := newFakeEventRepo()
	client := &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 200}}}
	errs := NewErrorBus(4)
	d := NewDeliverer(NewInternalState(), newFakeWebhookRepo(webhook), events, client, errs, nil, testRetryConfig(), make(chan NewRetry, 1))

	d.DeliverNewEvent(context.Background(), newEvent("wh-1", "e1"))

	if client.calls != 0 {
		t.Fatalf("expected no POST for an unavailable webhook, got %d calls", client.calls)
	}
}

func TestMarkWebhookUnavailable(t *testing.T) {
	webhook := Webhook{ID: "wh-1", URL: "http://example.test"}
	events := newFakeEventRepo()
	repo := newFakeWebhookRepo(webhook)
	errs := NewErrorBus(4)
	state := NewInternalState()
	d := NewDeliverer(state, repo, events, &fakeHTTPClient{responses: []DispatchResponse{{StatusCode: 200}}}, errs, nil, testRetryConfig(), make(chan NewRetry, 1))

	d.markWebhookUnavailable(context.Background(), "wh-1")

	if !events.failedByHook["wh-1"] {
		t.Error("expected SetAllAsFailedByWebhookID to be called")
	}
	if repo.statuses["wh-1"] != WebhookUnavailable {
		t.Errorf("webhook status = %v, want Unavailable", repo.statuses["wh-1"])
	}
	st, ok := state.Get("wh-1")
	if !ok || st.Kind != StateUnavailable {
		t.Fatalf("InternalState = %+v, want Unavailable", st)
	}
}
