// Package engine implements the reliable webhook delivery engine: the
// in-memory per-webhook state machine, the batching and retry scheduler, and
// the start/shutdown protocol with durable retry checkpointing.
//
// # Overview
//
// New events arrive from a WebhookEventRepo subscription and are routed
// either through the Batcher (when batching is configured) or straight to
// the Deliverer. A failed at-least-once delivery promotes the webhook into
// a Retrying state owned by a RetryState, and a RetryDispatcher is spawned
// to drain its retry queue with exponential backoff until success or
// timeout. Recovery replays persisted retry state and in-flight events
// across restarts.
//
// # Related Packages
//
//   - pkg/webhookstore: WebhookRepo / WebhookEventRepo over Postgres
//   - pkg/staterepo: WebhookStateRepo (Redis + S3 checkpoint blob)
//   - pkg/deliveryclient: WebhookHttpClient
package engine
