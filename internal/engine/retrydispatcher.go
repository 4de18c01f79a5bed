package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RetryDispatcher runs one instance per webhook that
// has entered Retrying, draining its RetryState's retry queue with
// exponential backoff until success or timeout.
//
// Shaped after a retry worker's processRetries/
// retryDelivery loop, restructured from a single polling ticker into a
// per-webhook fiber merged with the shutdown signal, using
// golang.org/x/sync/errgroup for bounded fan-out instead of a hand-rolled
// semaphore.
type RetryDispatcher struct {
	webhookID string
	retry     *RetryState
	mode      Batching

	webhooks WebhookRepo
	events   WebhookEventRepo
	client   WebhookHttpClient
	state    *InternalState
	errs     *ErrorBus

	maxSingleDispatchConcurrency int
	batchCapacity                int
}

// NewRetryDispatcher wires a RetryDispatcher for one webhook's RetryState.
func NewRetryDispatcher(
	webhookID string,
	retry *RetryState,
	mode Batching,
	webhooks WebhookRepo,
	events WebhookEventRepo,
	client WebhookHttpClient,
	state *InternalState,
	errs *ErrorBus,
	maxSingleDispatchConcurrency int,
	batchCapacity int,
) *RetryDispatcher {
	if maxSingleDispatchConcurrency <= 0 {
		maxSingleDispatchConcurrency = 1
	}
	return &RetryDispatcher{
		webhookID:                    webhookID,
		retry:                        retry,
		mode:                         mode,
		webhooks:                     webhooks,
		events:                       events,
		client:                       client,
		state:                        state,
		errs:                         errs,
		maxSingleDispatchConcurrency: maxSingleDispatchConcurrency,
		batchCapacity:                batchCapacity,
	}
}

// Run drains the retry queue until shutdown fires. It blocks until every
// in-flight retryEvents call has completed, so that status updates land
// before the caller proceeds to checkpoint.
func (d *RetryDispatcher) Run(ctx context.Context, shutdown <-chan struct{}) {
	if d.mode == Single {
		d.retrySingly(ctx, shutdown)
		return
	}
	d.retryBatched(ctx, shutdown)
}

// retrySingly posts each retry-queue event through retryEvents independently,
// with bounded parallelism maxSingleDispatchConcurrency.
func (d *RetryDispatcher) retrySingly(ctx context.Context, shutdown <-chan struct{}) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxSingleDispatchConcurrency)

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case e, ok := <-d.retry.RetryQueue():
			if !ok {
				break loop
			}
			evt := e
			g.Go(func() error {
				d.retryEvents(gctx, []WebhookEvent{evt}, nil)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// retryBatched groups retry-queue events by BatchKey and spawns one
// doRetryBatching worker per key, analogous to Batcher's grouping.
func (d *RetryDispatcher) retryBatched(ctx context.Context, shutdown <-chan struct{}) {
	groups := make(map[BatchKey]chan WebhookEvent)
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case e, ok := <-d.retry.RetryQueue():
			if !ok {
				break loop
			}
			key := batchKeyOf(d.webhookID, e)
			q, exists := groups[key]
			if !exists {
				q = make(chan WebhookEvent, d.batchCapacity)
				groups[key] = q
				wg.Add(1)
				go func(bq chan WebhookEvent) {
					defer wg.Done()
					d.doRetryBatching(ctx, bq, shutdown)
				}(q)
			}
			q <- e
		}
	}
	wg.Wait()
}

func (d *RetryDispatcher) doRetryBatching(ctx context.Context, batchQueue chan WebhookEvent, shutdown <-chan struct{}) {
	for {
		var first WebhookEvent
		select {
		case <-shutdown:
			return
		case e, ok := <-batchQueue:
			if !ok {
				return
			}
			first = e
		}

		batch := []WebhookEvent{first}
	drain:
		for {
			select {
			case e := <-batchQueue:
				batch = append(batch, e)
			default:
				break drain
			}
		}

		d.retryEvents(ctx, batch, batchQueue)
	}
}

// retryEvents posts one dispatch of
// events currently owned by the retry queue, then resolve success or
// failure against the owning RetryState.
func (d *RetryDispatcher) retryEvents(ctx context.Context, events []WebhookEvent, batchQueue chan WebhookEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.errs.Publish(ErrorRecord{Op: "retry", WebhookID: d.webhookID, Err: panicError(r)})
		}
	}()

	d.retry.AddInFlight(events)

	webhook, err := d.webhooks.RequireWebhook(ctx, d.webhookID)
	if err != nil {
		d.errs.Publish(ErrorRecord{Op: "retry", WebhookID: d.webhookID, Err: err})
		d.retry.RemoveInFlight(events)
		return
	}

	resp := d.client.Post(ctx, NewDispatch(webhook, events))
	now := time.Now()

	if resp.Success() {
		d.retry.RemoveInFlight(events)
		setEventStatus(ctx, d.events, d.errs, "retry", events, EventDelivered)
		d.retry.ResetBackoff(now)
		if d.retry.IsEmpty(batchQueueLen(batchQueue) == 0) {
			d.retry.SetInactive()
		}
		return
	}

	d.retry.IncreaseBackoff(now)
	d.state.Update(d.webhookID, RetryingState(d.retry))

	if batchQueue != nil {
		go func() {
			d.retry.Requeue(events)
			d.retry.RemoveInFlight(events)
		}()
		return
	}
	d.retry.Requeue(events)
	d.retry.RemoveInFlight(events)
}

func batchQueueLen(q chan WebhookEvent) int {
	if q == nil {
		return 0
	}
	return len(q)
}
