package engine

import (
	"context"
	"sync"
)

// Batcher groups new events by BatchKey and delivers
// them either as multi-event batches (Batched mode) or individually with
// bounded parallelism (Single mode).
//
// Shaped after a worker pool (lazily-spawned worker
// per logical queue, graceful drain via sync.WaitGroup) generalized from a
// single global pool into one bounded queue + worker per BatchKey.
type Batcher struct {
	deliverer *Deliverer
	webhooks  WebhookRepo
	errs      *ErrorBus

	batchCapacity                int
	maxSingleDispatchConcurrency int

	mu     sync.Mutex
	groups map[BatchKey]*batchGroup

	singleSem chan struct{}
	wg        sync.WaitGroup
}

type batchGroup struct {
	webhookID string
	queue     chan WebhookEvent
	ready     chan struct{}
}

// NewBatcher builds a Batcher. batchCapacity is the bound on each BatchKey's
// queue; maxSingleDispatchConcurrency bounds concurrent Single-mode POSTs.
func NewBatcher(deliverer *Deliverer, webhooks WebhookRepo, errs *ErrorBus, batchCapacity, maxSingleDispatchConcurrency int) *Batcher {
	if maxSingleDispatchConcurrency <= 0 {
		maxSingleDispatchConcurrency = 1
	}
	return &Batcher{
		deliverer:                    deliverer,
		webhooks:                     webhooks,
		errs:                         errs,
		batchCapacity:                batchCapacity,
		maxSingleDispatchConcurrency: maxSingleDispatchConcurrency,
		groups:                       make(map[BatchKey]*batchGroup),
		singleSem:                    make(chan struct{}, maxSingleDispatchConcurrency),
	}
}

// Run consumes events until shutdown fires on its first element, routing
// each to its BatchKey's worker (Batched mode) or to bounded-concurrency
// single delivery (Single mode). It blocks until every spawned task has
// drained, so callers can treat Run's return as "fully quiesced".
func (b *Batcher) Run(ctx context.Context, events <-chan WebhookEvent, shutdown <-chan struct{}) {
	defer b.wg.Wait()

	for {
		select {
		case <-shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b.route(ctx, e, shutdown)
		}
	}
}

func (b *Batcher) route(ctx context.Context, e WebhookEvent, shutdown <-chan struct{}) {
	webhook, err := b.webhooks.RequireWebhook(ctx, e.WebhookID)
	if err != nil {
		b.errs.Publish(ErrorRecord{Op: "batch", WebhookID: e.WebhookID, Err: err})
		return
	}

	if webhook.Mode.Batching == Single {
		b.deliverSingle(ctx, webhook, e)
		return
	}

	key := batchKeyOf(webhook.ID, e)
	g := b.groupFor(ctx, key, webhook.ID, shutdown)
	g.queue <- e
}

// groupFor lazily allocates the bounded queue and doBatching worker for key,
// blocking until the worker's start latch confirms it is subscribed. Having
// the worker live before the first send is attempted by a second caller
// prevents a lost wakeup on an empty, freshly created queue.
func (b *Batcher) groupFor(ctx context.Context, key BatchKey, webhookID string, shutdown <-chan struct{}) *batchGroup {
	b.mu.Lock()
	g, ok := b.groups[key]
	if !ok {
		g = &batchGroup{
			webhookID: webhookID,
			queue:     make(chan WebhookEvent, b.batchCapacity),
			ready:     make(chan struct{}),
		}
		b.groups[key] = g
		b.wg.Add(1)
		go b.doBatching(ctx, g, shutdown)
	}
	b.mu.Unlock()

	<-g.ready
	return g
}

func (b *Batcher) doBatching(ctx context.Context, g *batchGroup, shutdown <-chan struct{}) {
	defer b.wg.Done()
	close(g.ready)

	for {
		var first WebhookEvent
		select {
		case <-shutdown:
			return
		case e, ok := <-g.queue:
			if !ok {
				return
			}
			first = e
		}

		batch := []WebhookEvent{first}
	drain:
		for {
			select {
			case e := <-g.queue:
				batch = append(batch, e)
			default:
				break drain
			}
		}

		webhook, err := b.webhooks.RequireWebhook(ctx, g.webhookID)
		if err != nil {
			b.errs.Publish(ErrorRecord{Op: "batch", WebhookID: g.webhookID, Err: err})
			continue
		}
		if webhook.Availability != WebhookAvailable {
			continue
		}
		b.deliverer.Deliver(ctx, webhook, NewDispatch(webhook, batch))
	}
}

// deliverSingle delivers one event with bounded parallelism, acquiring a
// slot from the shared single-dispatch semaphore (blocking if all are in
// use; the bound is a hard cap, not a best-effort limit).
func (b *Batcher) deliverSingle(ctx context.Context, webhook Webhook, e WebhookEvent) {
	if webhook.Availability != WebhookAvailable {
		return
	}

	b.singleSem <- struct{}{}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.singleSem }()
		b.deliverer.Deliver(ctx, webhook, NewDispatch(webhook, []WebhookEvent{e}))
	}()
}
