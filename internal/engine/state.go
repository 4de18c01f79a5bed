package engine

import (
	"sync"
	"time"
)

// WebhookStateKind discriminates the WebhookState tagged variant.
type WebhookStateKind string

const (
	StateDisabled    WebhookStateKind = "disabled"
	StateUnavailable WebhookStateKind = "unavailable"
	StateRetrying    WebhookStateKind = "retrying"
)

// WebhookState is the in-memory-only tagged variant InternalState maps
// webhook ids onto: Disabled (terminal until restart), Unavailable (timed
// out, awaiting operator re-enable), or Retrying (owns a *RetryState).
type WebhookState struct {
	Kind  WebhookStateKind
	Retry *RetryState // non-nil iff Kind == StateRetrying
}

func DisabledState() WebhookState {
	return WebhookState{Kind: StateDisabled}
}

func UnavailableState() WebhookState {
	return WebhookState{Kind: StateUnavailable}
}

func RetryingState(rs *RetryState) WebhookState {
	return WebhookState{Kind: StateRetrying, Retry: rs}
}

// InternalState is the single-writer map from webhook id to WebhookState
// of the delivery pipeline. A coarse mutex over the whole map is the
// serialization discipline accepted explicitly for this map's size.
//
// Shaped after a delivery-log store (map guarded by
// one sync.RWMutex, Add/Update/Get/evict shape).
type InternalState struct {
	mu      sync.RWMutex
	entries map[string]WebhookState
}

// NewInternalState builds an empty InternalState.
func NewInternalState() *InternalState {
	return &InternalState{entries: make(map[string]WebhookState)}
}

// Get returns the current state for id, and whether an entry exists.
func (s *InternalState) Get(id string) (WebhookState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[id]
	return st, ok
}

// Update replaces the state for id.
func (s *InternalState) Update(id string, newState WebhookState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = newState
}

// Delete removes the entry for id entirely (used only when a webhook is
// unregistered, not as part of the normal Retrying<->inactive lifecycle).
func (s *InternalState) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Ids returns a snapshot of every webhook id currently tracked.
func (s *InternalState) Ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// CountsByKind tallies how many tracked webhooks are in each state, for
// health/readiness reporting.
func (s *InternalState) CountsByKind() map[WebhookStateKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[WebhookStateKind]int, 3)
	for _, st := range s.entries {
		counts[st.Kind]++
	}
	return counts
}

// SuspendAll applies RetryState.Suspend to every Retrying entry, as part of
// graceful shutdown. It does not remove entries or
// alter Disabled/Unavailable ones.
func (s *InternalState) SuspendAll(now time.Time) map[string]PersistedRetryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suspended := make(map[string]PersistedRetryEntry)
	for id, st := range s.entries {
		if st.Kind == StateRetrying && st.Retry != nil {
			suspended[id] = st.Retry.Suspend(now)
		}
	}
	return suspended
}

// SnapshotPersistent projects every Retrying entry into a
// PersistentServerState, suitable for serialization via a WebhookStateRepo.
func (s *InternalState) SnapshotPersistent(now time.Time) PersistentServerState {
	return PersistentServerState{RetryingStates: s.SuspendAll(now)}
}
