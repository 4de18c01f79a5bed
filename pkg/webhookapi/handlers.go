package webhookapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/platinummonkey/webhookrelay/internal/engine"
	"github.com/platinummonkey/webhookrelay/pkg/observability"
)

// EventSink accepts newly ingested events ahead of delivery. Implemented by
// pkg/webhookstore.Store.
type EventSink interface {
	InsertEvent(ctx context.Context, e engine.WebhookEvent) error
}

// Server is the admin HTTP surface. Shaped after a webhook handler's
// WebhookHandlers: one struct wrapping the thing being observed, one method
// per route, registered onto a *mux.Router by the caller's own server setup.
type Server struct {
	state  *engine.InternalState
	errs   *engine.ErrorBus
	events EventSink

	upgrader websocket.Upgrader
}

// NewServer builds a Server over the engine's InternalState and ErrorBus.
func NewServer(state *engine.InternalState, errs *engine.ErrorBus, events EventSink) *Server {
	return &Server{
		state:  state,
		errs:   errs,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the admin routes onto router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", s.listWebhooks).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", s.getWebhook).Methods(http.MethodGet)
	router.HandleFunc("/events", s.createEvent).Methods(http.MethodPost)
	router.HandleFunc("/errors/stream", s.streamErrors).Methods(http.MethodGet)
}

// listWebhooks handles GET /webhooks.
func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	ids := s.state.Ids()
	views := make([]webhookStateView, 0, len(ids))
	for _, id := range ids {
		st, ok := s.state.Get(id)
		if !ok {
			continue
		}
		views = append(views, newWebhookStateView(id, st))
	}
	writeJSON(w, http.StatusOK, views)
}

// getWebhook handles GET /webhooks/{id}.
func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	observability.AnnotateSpanWithWebhook(r.Context(), id, "")
	st, ok := s.state.Get(id)
	if !ok {
		http.Error(w, "webhook has no tracked state", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookStateView(id, st))
}

// createEventRequest is the POST /events request body.
type createEventRequest struct {
	WebhookID   string            `json:"webhookId"`
	EventID     string            `json:"eventId"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"contentType"`
}

// createEvent handles POST /events.
func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.WebhookID == "" {
		http.Error(w, "webhookId is required", http.StatusBadRequest)
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}
	observability.AnnotateSpanWithWebhook(r.Context(), req.WebhookID, req.EventID)

	event := engine.WebhookEvent{
		WebhookID:   req.WebhookID,
		EventID:     req.EventID,
		Payload:     req.Payload,
		Headers:     req.Headers,
		ContentType: req.ContentType,
		Status:      engine.EventNew,
	}
	if err := s.events.InsertEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

// streamErrors handles GET /errors/stream: a websocket live tail of the
// engine's ErrorBus, one JSON-encoded ErrorRecord per frame.
func (s *Server) streamErrors(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.errs.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(errorRecordView{
				Time:      rec.Time,
				Op:        rec.Op,
				WebhookID: rec.WebhookID,
				Error:     rec.Err.Error(),
			}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
