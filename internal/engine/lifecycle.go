package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Lifecycle is the start/shutdown protocol tying new
// event subscription, recovery, and retry monitoring together, plus the
// final checkpoint write.
//
// Shutdown closes the shutdown signal and waits on a sync.WaitGroup for the
// three fixed sub-tasks (new-event subscription, recovery, retry
// monitoring) to return; the wait has no timeout, and its context is used
// only for the final checkpoint write. The startup barrier runs that shape
// in reverse:
// new-event subscription and recovery each signal it directly once their
// streams are observably live, a one-shot signal/wait instead of a drain.
type Lifecycle struct {
	state     *InternalState
	webhooks  WebhookRepo
	events    WebhookEventRepo
	client    WebhookHttpClient
	stateRepo WebhookStateRepo
	errs      *ErrorBus

	retryConfig                  RetryConfig
	maxSingleDispatchConcurrency int
	batcher                      *Batcher // nil when batchingCapacity is not configured

	deliverer *Deliverer
	recovery  *Recovery

	newRetries chan NewRetry

	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
	wg             sync.WaitGroup
}

// LifecycleConfig bundles the collaborators and tuning knobs Lifecycle
// needs to wire a Deliverer, Recovery, optional Batcher, and the
// retry-monitoring loop.
type LifecycleConfig struct {
	State     *InternalState
	Webhooks  WebhookRepo
	Events    WebhookEventRepo
	Client    WebhookHttpClient
	StateRepo WebhookStateRepo
	Errs      *ErrorBus
	Limiter   *RateLimiter

	RetryConfig                  RetryConfig
	BatchingCapacity              int // 0 disables the Batcher entirely
	MaxSingleDispatchConcurrency  int
	NewRetriesCapacity            int
}

// NewLifecycle wires a Deliverer, Recovery, and (if configured) a Batcher
// from cfg, and prepares the shutdown signal/barrier.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.NewRetriesCapacity <= 0 {
		cfg.NewRetriesCapacity = 64
	}

	l := &Lifecycle{
		state:                        cfg.State,
		webhooks:                     cfg.Webhooks,
		events:                       cfg.Events,
		client:                       cfg.Client,
		stateRepo:                    cfg.StateRepo,
		errs:                         cfg.Errs,
		retryConfig:                  cfg.RetryConfig,
		maxSingleDispatchConcurrency: cfg.MaxSingleDispatchConcurrency,
		newRetries:                   make(chan NewRetry, cfg.NewRetriesCapacity),
		shutdownSignal:               make(chan struct{}),
	}

	l.deliverer = NewDeliverer(cfg.State, cfg.Webhooks, cfg.Events, cfg.Client, cfg.Errs, cfg.Limiter, cfg.RetryConfig, l.newRetries)
	l.recovery = NewRecovery(cfg.StateRepo, cfg.Webhooks, cfg.Events, cfg.State, cfg.Errs, cfg.RetryConfig, l.newRetries)

	if cfg.BatchingCapacity > 0 {
		l.batcher = NewBatcher(l.deliverer, cfg.Webhooks, cfg.Errs, cfg.BatchingCapacity, cfg.MaxSingleDispatchConcurrency)
	}

	return l
}

// Start launches new-event subscription, recovery, and retry monitoring,
// and blocks until the startup barrier reaches zero: both new-event
// subscription and recovery have observably subscribed to their sources.
func (l *Lifecycle) Start(ctx context.Context) {
	newEventsReady := make(chan struct{})
	recoveryReady := make(chan struct{})

	l.wg.Add(3)
	go func() {
		defer l.wg.Done()
		l.runNewEventSubscription(ctx, newEventsReady)
	}()
	go func() {
		defer l.wg.Done()
		l.recovery.Run(ctx, recoveryReady, l.shutdownSignal)
	}()
	go func() {
		defer l.wg.Done()
		l.runRetryMonitoring(ctx)
	}()

	<-newEventsReady
	<-recoveryReady
}

func (l *Lifecycle) runNewEventSubscription(ctx context.Context, ready chan<- struct{}) {
	stream := l.events.SubscribeToNewEvents(ctx)

	select {
	case <-stream.Ready():
	case <-l.shutdownSignal:
		return
	}
	close(ready)

	if l.batcher != nil {
		l.batcher.Run(ctx, stream.Events(), l.shutdownSignal)
		return
	}

	for {
		select {
		case <-l.shutdownSignal:
			return
		case e, ok := <-stream.Events():
			if !ok {
				return
			}
			l.deliverer.DeliverNewEvent(ctx, e)
		}
	}
}

// runRetryMonitoring spawns one RetryDispatcher per NewRetry offer and
// awaits every spawned dispatcher as part of the shutdown barrier.
func (l *Lifecycle) runRetryMonitoring(ctx context.Context) {
	var dispatchers sync.WaitGroup

	for {
		select {
		case <-l.shutdownSignal:
			dispatchers.Wait()
			return
		case nr, ok := <-l.newRetries:
			if !ok {
				dispatchers.Wait()
				return
			}
			l.spawnDispatcher(ctx, nr, &dispatchers)
		}
	}
}

func (l *Lifecycle) spawnDispatcher(ctx context.Context, nr NewRetry, dispatchers *sync.WaitGroup) {
	mode := Single
	if webhook, err := l.webhooks.RequireWebhook(ctx, nr.WebhookID); err != nil {
		l.errs.Publish(ErrorRecord{Op: "retry", WebhookID: nr.WebhookID, Err: err})
	} else {
		mode = webhook.Mode.Batching
	}

	disp := NewRetryDispatcher(nr.WebhookID, nr.State, mode, l.webhooks, l.events, l.client, l.state, l.errs, l.maxSingleDispatchConcurrency, l.retryConfig.Capacity)

	dispatchers.Add(1)
	go func() {
		defer dispatchers.Done()
		disp.Run(ctx, l.shutdownSignal)
	}()
}

// Shutdown fires the shutdown signal, awaits every sub-task's drain, then
// suspends every Retrying state and writes the resulting
// PersistentServerState via the state repo. Any marshal or state-repo
// failure is returned as an *IOError: it is the only error Lifecycle ever
// returns to its caller.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() { close(l.shutdownSignal) })
	l.wg.Wait()

	snapshot := l.state.SnapshotPersistent(time.Now())
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return &IOError{Op: "marshalState", Cause: err}
	}
	if err := l.stateRepo.SetState(ctx, blob); err != nil {
		return &IOError{Op: "setState", Cause: err}
	}
	return nil
}
