package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// EventType identifies what happened to an entity.
type EventType string

// Event types carried on the channel.
const (
	EntityCreated EventType = "entity_created"
	EntityChanged EventType = "entity_changed"
	EntityRemoved EventType = "entity_removed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EntityCreated, EntityChanged, EntityRemoved:
		return true
	}
	return false
}

// Event is one lifecycle message on the wire.
//
// Payload carries the full snapshot for created and changed events so an
// observer can apply it without any prior state. Removed events carry no
// payload; Version is then the tombstone version.
type Event struct {
	Kind      entity.Kind          `json:"kind"`
	ID        string               `json:"id"`
	Type      EventType            `json:"event_type"`
	Version   int64                `json:"version"`
	Payload   *entity.Snapshot     `json:"payload,omitempty"`
	Changes   []entity.FieldChange `json:"changes,omitempty"`
	OwnerID   string               `json:"owner_id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Key returns the (kind, id) the event refers to.
func (e Event) Key() entity.Key {
	return entity.Key{Kind: e.Kind, ID: e.ID}
}

// NewCreated builds an entity_created event for snap.
func NewCreated(snap *entity.Snapshot) Event {
	return Event{
		Kind:      snap.Kind,
		ID:        snap.ID,
		Type:      EntityCreated,
		Version:   snap.Version,
		Payload:   snap.Clone(),
		OwnerID:   snap.OwnerID(),
		Timestamp: snap.UpdatedAt,
	}
}

// NewChanged builds an entity_changed event carrying the new snapshot
// and the field diff that produced it.
func NewChanged(snap *entity.Snapshot, changes []entity.FieldChange) Event {
	ev := NewCreated(snap)
	ev.Type = EntityChanged
	ev.Changes = changes
	return ev
}

// NewRemoved builds an entity_removed event from a tombstone.
func NewRemoved(ts entity.Tombstone, ownerID string) Event {
	return Event{
		Kind:      ts.Kind,
		ID:        ts.ID,
		Type:      EntityRemoved,
		Version:   ts.Version,
		OwnerID:   ownerID,
		Timestamp: ts.RemovedAt,
	}
}

// Validate checks that the event is self-consistent.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrMalformedEvent, e.Kind)
	}
	if e.ID == "" || e.Version < 1 {
		return fmt.Errorf("%w: missing id or version", ErrMalformedEvent)
	}
	switch e.Type {
	case EntityCreated, EntityChanged:
		if e.Payload == nil {
			return fmt.Errorf("%w: %s without payload", ErrMalformedEvent, e.Type)
		}
		if e.Payload.Key() != e.Key() || e.Payload.Version != e.Version {
			return fmt.Errorf("%w: payload does not match header", ErrMalformedEvent)
		}
		if err := entity.ValidateSnapshot(e.Payload); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
	case EntityRemoved:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// Encode serialises an event to its JSON wire form.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}

// Decode parses and validates a JSON wire event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
