// Package notify turns applied lifecycle changes into user-facing signals.
//
// The Dispatcher implements reconcile.Handler, so every change an observer
// applies produces exactly one Signal. Alert signals carry the alert's
// severity as their Level; device and vulnerability signals are
// informational. Delivery to sinks (log, MQTT, WebSocket hub) is
// fire-and-forget and never feeds back into the store.
package notify
