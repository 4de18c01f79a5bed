package deliveryclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

func newDispatch(t *testing.T, url, secret string, events ...engine.WebhookEvent) engine.WebhookDispatch {
	t.Helper()
	return engine.NewDispatch(engine.Webhook{ID: "wh-1", URL: url, Secret: secret}, events)
}

func TestClient_Post_SingleEventSendsRawPayload(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	dispatch := newDispatch(t, server.URL, "", engine.WebhookEvent{
		WebhookID: "wh-1", EventID: "e1", Payload: []byte(`{"hello":"world"}`), ContentType: "application/json",
	})

	resp := c.Post(context.Background(), dispatch)
	if !resp.Success() {
		t.Fatalf("resp = %+v, want success", resp)
	}
	if string(gotBody) != `{"hello":"world"}` {
		t.Fatalf("body = %s, want raw single-event payload", gotBody)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content-type = %q, want application/json", gotContentType)
	}
}

func TestClient_Post_BatchEncodesArray(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	dispatch := newDispatch(t, server.URL, "",
		engine.WebhookEvent{WebhookID: "wh-1", EventID: "e1", Payload: []byte(`{"n":1}`)},
		engine.WebhookEvent{WebhookID: "wh-1", EventID: "e2", Payload: []byte(`{"n":2}`)},
	)

	resp := c.Post(context.Background(), dispatch)
	if !resp.Success() {
		t.Fatalf("resp = %+v, want success", resp)
	}

	var batch []eventPayload
	if err := json.Unmarshal(gotBody, &batch); err != nil {
		t.Fatalf("unmarshal batch body: %v", err)
	}
	if len(batch) != 2 || batch[0].EventID != "e1" || batch[1].EventID != "e2" {
		t.Fatalf("batch = %+v, want e1 then e2 in order", batch)
	}
}

func TestClient_Post_SignsRequestWhenSecretPresent(t *testing.T) {
	const secret = "s3cr3t"
	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhookrelay-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	dispatch := newDispatch(t, server.URL, secret, engine.WebhookEvent{
		WebhookID: "wh-1", EventID: "e1", Payload: []byte(`{"hello":"world"}`),
	})

	c.Post(context.Background(), dispatch)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature = %q, want %q", gotSignature, want)
	}
}

func TestClient_Post_NonOKStatusIsNotSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New()
	dispatch := newDispatch(t, server.URL, "", engine.WebhookEvent{WebhookID: "wh-1", EventID: "e1", Payload: []byte(`{}`)})

	resp := c.Post(context.Background(), dispatch)
	if resp.Success() {
		t.Fatal("expected a 500 response to not count as success")
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want 500", resp.StatusCode)
	}
}

func TestClient_Post_TransportErrorOnUnreachableHost(t *testing.T) {
	c := New()
	dispatch := newDispatch(t, "http://127.0.0.1:1", "", engine.WebhookEvent{WebhookID: "wh-1", EventID: "e1", Payload: []byte(`{}`)})

	resp := c.Post(context.Background(), dispatch)
	if !resp.Transport {
		t.Fatalf("resp = %+v, want Transport=true", resp)
	}
}
