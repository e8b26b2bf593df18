// Package reconcile keeps an observer's local projection of entities in
// step with the authoritative store.
//
// An Engine subscribes to a channel.Source, installs a baseline from a
// Fetcher and then applies events in version order. Each entity carries a
// monotonic version; an event whose version is not above the cached one is
// discarded, which makes delivery idempotent and tolerant of reordering.
// Whenever the stream drops, the engine resubscribes and resyncs, buffering
// events that arrive during the fetch so that nothing is lost between the
// baseline and the live stream.
//
// Applied events are handed to Handlers (the notification dispatcher) and
// ChangeListeners (aggregation views). Installing a baseline never produces
// Handler calls; listeners implementing Rebuilder are rebuilt instead.
package reconcile
