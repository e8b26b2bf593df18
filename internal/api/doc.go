// Package api implements the HTTP REST API and WebSocket server for Sentinel Core.
//
// This package provides:
//   - REST endpoints for entity creation, mutation and device removal
//   - The snapshot endpoint observers use to resync
//   - List, history and aggregate read endpoints
//   - A WebSocket hub relaying store events on per-kind channels
//   - Middleware stack (request ID, access log with per-route counts, recovery, CORS, body limit)
//
// # Architecture
//
// The API is the boundary to the system of record. Mutations are handed to
// the store, which validates, versions and publishes them. The hub holds
// one broker subscription and fans events out to observers subscribed to
// "entity.device", "entity.alert" or "entity.vulnerability". Notification
// signals are relayed on the "signals" channel.
//
// # Slow observers
//
// A WebSocket client whose send buffer fills up is disconnected rather than
// skipped, because a skipped event would leave its projection silently
// stale. If the hub's own broker subscription is dropped every client is
// disconnected for the same reason. Clients reconnect and resync.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB; only the corresponding
// sections of the system report are empty.
package api
