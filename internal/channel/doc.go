// Package channel carries entity lifecycle events from the store to
// observers.
//
// Every accepted change produces exactly one Event. Events for the same
// entity are delivered in version order; nothing is promised across
// entities. Observers consume events through a Source, which may be:
//
//   - BrokerSource, an in-process subscription to the Broker
//   - WebSocketSource, the /ws endpoint of a remote core
//   - MQTTSource, the sentinel/events/... topics on an MQTT broker
//
// A Stream never silently loses events. When the transport drops, or the
// observer falls behind and its buffer overflows, Recv returns an error
// wrapping ErrChannelDisconnected and the observer must resync from a
// fresh snapshot.
//
// The package also hosts the MQTT side of ingestion: MQTTBridge publishes
// broker events to MQTT and DiscoveryHandler turns scanner announcements
// into store writes.
package channel
