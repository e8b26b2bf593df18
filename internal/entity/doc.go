// Package entity defines the lifecycle-bearing records tracked by Sentinel
// Core: devices, alerts, and vulnerabilities.
//
// Every record is held as an immutable Snapshot carrying a monotonically
// increasing version. Snapshots are never edited in place; a Mutation is
// applied to a clone and the result replaces the previous snapshot in the
// entity store.
//
// # Key Types
//
//   - Kind: device, alert or vulnerability
//   - Snapshot: full field-set of one entity at one version
//   - Key: (kind, id) pair used to index projections
//   - Mutation: typed field changes plus the caller's source version
//   - FieldChange: one entry of the diff carried by entity_changed events
//
// # Ownership
//
// Alerts and vulnerabilities are owned by exactly one device (OwnerID).
// Removing the device removes them as well; the entity store performs the
// cascade.
//
// # Errors
//
// Errors that cross the wire carry a stable Reason code (invalid_transition,
// stale_write, ...). Use ReasonOf to recover it from a wrapped error.
package entity
