// Package webhookapi is the read-only admin surface over the delivery
// engine's InternalState and ErrorBus, plus the event-ingestion endpoint
// that feeds new events into pkg/webhookstore.
//
// # Overview
//
// This package never touches delivery itself. It is a thin HTTP front end
// for observing what the engine is doing: which webhooks are Retrying and
// with what backoff, and a live tail of engine-internal failures.
//
// # Routes
//
//	GET  /webhooks                 list every webhook's current state
//	GET  /webhooks/{id}            one webhook's current state
//	POST /events                   enqueue a new event for delivery
//	GET  /errors/stream             live tail of the error bus (websocket)
//
// # Related Packages
//
//   - internal/engine: InternalState, ErrorBus
//   - pkg/webhookstore: event ingestion target
package webhookapi
