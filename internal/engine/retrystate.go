package engine

import (
	"sync"
	"time"
)

// RetryState is the per-webhook retry bookkeeping:
// a bounded retry queue, an in-flight set, a bounded backoff-reset channel,
// and the exponential-backoff/timeout scalars.
//
// Backoff math follows a RetryPolicy shape; the worker lifecycle follows
// a kill-switch + panic-recovered
// background task shape for the timeout timer).
type RetryState struct {
	mu sync.Mutex

	webhookID string

	retryQueue    chan WebhookEvent
	inFlight      map[EventKey]WebhookEvent
	backoffResets chan chan struct{}

	base              time.Duration
	exponentialFactor float64 // accepted for forward compatibility; formula always uses base*2^failureCount
	maxBackoff        time.Duration

	timeout         time.Duration // remaining
	activeSinceTime time.Time
	lastRetryTime   time.Time
	failureCount    int
	nextBackoff     time.Duration

	timerKillSwitch chan struct{}
	isActive        bool
}

// RetryConfig configures backoff and capacity for every RetryState the
// engine creates.
type RetryConfig struct {
	Capacity          int
	ExponentialBase   time.Duration
	ExponentialFactor float64
	MaxBackoff        time.Duration
	Timeout           time.Duration
}

// NewRetryState allocates a fresh, inactive RetryState for a first failure.
func NewRetryState(webhookID string, cfg RetryConfig) *RetryState {
	return &RetryState{
		webhookID:         webhookID,
		retryQueue:        make(chan WebhookEvent, cfg.Capacity),
		inFlight:          make(map[EventKey]WebhookEvent),
		backoffResets:     make(chan chan struct{}, cfg.Capacity),
		base:              cfg.ExponentialBase,
		exponentialFactor: cfg.ExponentialFactor,
		maxBackoff:        cfg.MaxBackoff,
		timeout:           cfg.Timeout,
		nextBackoff:       cfg.ExponentialBase,
	}
}

// NewRecoveredRetryState rebuilds a RetryState from a persisted entry:
// fresh queues, but scalars carried over from the checkpoint. nextBackoff
// is the persisted backoff, not cfg.ExponentialBase.
func NewRecoveredRetryState(webhookID string, cfg RetryConfig, entry PersistedRetryEntry) *RetryState {
	rs := NewRetryState(webhookID, cfg)
	rs.activeSinceTime = entry.SinceTime
	rs.lastRetryTime = entry.LastRetryTime
	rs.timeout = entry.TimeLeft
	rs.nextBackoff = entry.Backoff
	rs.failureCount = entry.Attempt
	return rs
}

// RetryQueue exposes the retry queue for consumption by a RetryDispatcher.
func (r *RetryState) RetryQueue() chan WebhookEvent {
	return r.retryQueue
}

// WebhookID returns the owning webhook's id.
func (r *RetryState) WebhookID() string {
	return r.webhookID
}

// AddInFlight moves events into the in-flight set.
func (r *RetryState) AddInFlight(events []WebhookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.inFlight[e.Key()] = e
	}
}

// RemoveInFlight removes events from the in-flight set.
func (r *RetryState) RemoveInFlight(events []WebhookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		delete(r.inFlight, e.Key())
	}
}

// InFlightCount reports the size of the in-flight set.
func (r *RetryState) InFlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// EnqueueAll offers events to the retry queue. It blocks while the queue is
// at capacity: backpressure here is intentional.
func (r *RetryState) EnqueueAll(events []WebhookEvent) {
	for _, e := range events {
		r.retryQueue <- e
	}
}

// IsEmpty reports whether the retry queue and in-flight set are both empty.
// batchQueueEmpty lets callers fold in an optional subsidiary batch queue's
// emptiness before the webhook can leave Retrying.
func (r *RetryState) IsEmpty(batchQueueEmpty bool) bool {
	r.mu.Lock()
	inFlightEmpty := len(r.inFlight) == 0
	r.mu.Unlock()
	return inFlightEmpty && len(r.retryQueue) == 0 && batchQueueEmpty
}

// IncreaseBackoff applies the post-failure backoff transition:
//
//	nextExp := base * 2^failureCount
//	if nextExp >= maxBackoff: nextBackoff = maxBackoff (ceiling, failureCount unchanged)
//	else: failureCount++; nextBackoff = nextExp
//
// lastRetryTime is always set to now.
func (r *RetryState) IncreaseBackoff(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nextExp := r.base * (1 << uint(r.failureCount))
	if nextExp >= r.maxBackoff || nextExp <= 0 { // overflow of the shift also saturates to the ceiling
		r.nextBackoff = r.maxBackoff
	} else {
		r.failureCount++
		r.nextBackoff = nextExp
	}
	r.lastRetryTime = now
}

// ResetBackoff restores base backoff after a success and wakes every
// requeue task that is currently sleeping for this webhook, by draining
// the backoff-reset channel and completing each pending one-shot.
func (r *RetryState) ResetBackoff(now time.Time) {
	r.mu.Lock()
	r.failureCount = 0
	r.nextBackoff = r.base
	r.lastRetryTime = now
	r.mu.Unlock()

	for {
		select {
		case signal := <-r.backoffResets:
			close(signal)
		default:
			return
		}
	}
}

// NextBackoff returns the current backoff duration.
func (r *RetryState) NextBackoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextBackoff
}

// FailureCount returns the current failure count.
func (r *RetryState) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

// Timeout returns the remaining timeout duration.
func (r *RetryState) Timeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// IsActive reports whether this RetryState owns a live timeout timer.
func (r *RetryState) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isActive
}

// SetActiveWithTimeout activates the RetryState's timeout timer if it is
// not already active. onTimeout runs in a new goroutine if the timeout
// elapses before SetInactive's kill-switch fires.
func (r *RetryState) SetActiveWithTimeout(now time.Time, onTimeout func()) {
	r.mu.Lock()
	if r.isActive {
		r.mu.Unlock()
		return
	}
	kill := make(chan struct{})
	r.timerKillSwitch = kill
	r.isActive = true
	r.activeSinceTime = now
	timeout := r.timeout
	r.mu.Unlock()

	go func() {
		defer func() {
			// A panic in onTimeout is recovered here and discarded, so
			// it cannot crash the process; it is not reported anywhere.
			recover()
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-kill:
			return
		case <-timer.C:
			onTimeout()
		}
	}()
}

// SetInactive cancels the timeout timer (no-op if none is running).
func (r *RetryState) SetInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timerKillSwitch != nil {
		close(r.timerKillSwitch)
		r.timerKillSwitch = nil
	}
	r.isActive = false
}

// Suspend returns a PersistedRetryEntry reflecting the remaining timeout
// and backoff as of now, for checkpointing at shutdown. It does not clamp
// negative results, and Recovery restores them unchanged; on resume a
// negative backoff is clamped to zero by Requeue (clampNonNegative), and a
// negative timeout makes SetActiveWithTimeout's timer fire immediately.
func (r *RetryState) Suspend(now time.Time) PersistedRetryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsedActive := now.Sub(r.activeSinceTime)
	elapsedSinceRetry := now.Sub(r.lastRetryTime)

	return PersistedRetryEntry{
		SinceTime:     r.activeSinceTime,
		LastRetryTime: r.lastRetryTime,
		TimeLeft:      r.timeout - elapsedActive,
		Backoff:       r.nextBackoff - elapsedSinceRetry,
		Attempt:       r.failureCount,
	}
}

// clampNonNegative clamps a duration to zero, resolving the second Open
// Question ("clamp to zero on resume").
func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Requeue sleeps nextBackoff (preemptible by a reset delivered through
// ResetBackoff) and then re-enqueues events. Callers run this inline in
// single-retry mode, or spawn it as an independent goroutine in batched
// mode to avoid a take<->offer deadlock on the bounded batch queue.
func (r *RetryState) Requeue(events []WebhookEvent) {
	signal := make(chan struct{})

	r.mu.Lock()
	backoff := r.nextBackoff
	r.mu.Unlock()

	r.backoffResets <- signal

	timer := time.NewTimer(clampNonNegative(backoff))
	defer timer.Stop()

	select {
	case <-signal:
	case <-timer.C:
	}

	r.EnqueueAll(events)
}
