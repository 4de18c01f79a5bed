package webhookapi

import (
	"time"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

// retryView is the JSON shape of a RetryState, read through its exported
// accessors. RetryState has no exported fields, only methods, so this is
// assembled rather than marshaled directly.
type retryView struct {
	FailureCount  int           `json:"failureCount"`
	NextBackoff   time.Duration `json:"nextBackoff"`
	InFlightCount int           `json:"inFlightCount"`
	Active        bool          `json:"active"`
}

// webhookStateView is the JSON shape of one engine.WebhookState.
type webhookStateView struct {
	WebhookID string     `json:"webhookId"`
	Kind      string     `json:"kind"`
	Retry     *retryView `json:"retry,omitempty"`
}

func newWebhookStateView(id string, st engine.WebhookState) webhookStateView {
	view := webhookStateView{WebhookID: id, Kind: kindString(st.Kind)}
	if st.Kind == engine.StateRetrying && st.Retry != nil {
		view.Retry = &retryView{
			FailureCount:  st.Retry.FailureCount(),
			NextBackoff:   st.Retry.NextBackoff(),
			InFlightCount: st.Retry.InFlightCount(),
			Active:        st.Retry.IsActive(),
		}
	}
	return view
}

// errorRecordView is the wire shape of an engine.ErrorRecord: Err is
// rendered as its message string since error values do not marshal
// meaningfully on their own.
type errorRecordView struct {
	Time      time.Time `json:"time"`
	Op        string    `json:"op"`
	WebhookID string    `json:"webhookId"`
	Error     string    `json:"error"`
}

func kindString(k engine.WebhookStateKind) string {
	switch k {
	case engine.StateDisabled:
		return "disabled"
	case engine.StateUnavailable:
		return "unavailable"
	case engine.StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}
