// Package taskevents is the event dispatch and integration-delivery core:
// it publishes domain events to a dynamic set of registered integrations
// with per-listener priority ordering, optional guaranteed delivery with
// bounded retry, failure isolation, per-listener timeouts, and topic/channel
// pub-sub with message history and replay.
//
// The packages layer leaf-first:
//
//   - event: the payload envelope and producer context
//   - errors: error categories, typed errors, and retry policies
//   - schema: payload validation and version migration
//   - dispatch: the listener registry and emission fan-out
//   - bus: topic/channel pub-sub built on the dispatcher
//   - queue: a buffered priority work queue
//   - integration: the coordinator tying the paths together
//   - resilience: circuit breakers and recovery policies
//   - health: the health monitor
//   - archive: storage for permanently failed deliveries
//   - observability: logging, metrics, and tracing
//   - config: file and environment configuration
//
// A typical producer registers integrations on a Coordinator, initializes
// it, and emits events; the coordinator routes each event per integration
// through the dispatcher, the queue, the bus, or a hybrid of dispatcher and
// bus.
package taskevents
