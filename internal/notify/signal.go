package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

// Level is the urgency of a signal.
type Level string

// Signal levels, lowest first.
const (
	LevelInfo     Level = "info"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// AllLevels returns every level, lowest first.
func AllLevels() []Level {
	return []Level{LevelInfo, LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// LevelForSeverity maps an alert severity directly onto a level.
func LevelForSeverity(s entity.Severity) Level {
	switch s {
	case entity.SeverityLow:
		return LevelLow
	case entity.SeverityMedium:
		return LevelMedium
	case entity.SeverityHigh:
		return LevelHigh
	case entity.SeverityCritical:
		return LevelCritical
	}
	return LevelInfo
}

// Signal is one user-facing notification derived from an applied change.
type Signal struct {
	ID        string            `json:"id"`
	Level     Level             `json:"level"`
	Kind      entity.Kind       `json:"kind"`
	EntityID  string            `json:"entity_id"`
	DeviceID  string            `json:"device_id,omitempty"`
	EventType channel.EventType `json:"event_type"`
	Version   int64             `json:"version"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Message   string            `json:"message"`
	At        time.Time         `json:"at"`
}

// Classify builds the signal for an applied change.
//
// Alert changes take the alert's severity as their level. Device and
// vulnerability changes are informational.
func Classify(a reconcile.Applied) Signal {
	ev := a.Event
	sig := Signal{
		ID:        uuid.NewString(),
		Level:     LevelInfo,
		Kind:      ev.Kind,
		EntityID:  ev.ID,
		DeviceID:  ev.OwnerID,
		EventType: ev.Type,
		Version:   ev.Version,
		At:        ev.Timestamp,
	}
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	if a.Before != nil {
		sig.From = a.Before.Status()
	}
	if a.After != nil {
		sig.To = a.After.Status()
	}

	// Removed alerts have no After; the severity comes from Before.
	subject := a.After
	if subject == nil {
		subject = a.Before
	}
	if ev.Kind == entity.KindAlert && subject != nil && subject.Alert != nil {
		sig.Level = LevelForSeverity(subject.Alert.Severity)
	}
	if ev.Kind == entity.KindDevice {
		sig.DeviceID = ev.ID
	}

	sig.Message = describe(ev, subject, sig.From, sig.To)
	return sig
}

func describe(ev channel.Event, subject *entity.Snapshot, from, to string) string {
	name := string(ev.Kind) + " " + ev.ID
	if subject != nil && subject.Alert != nil && subject.Alert.Title != "" {
		name = fmt.Sprintf("alert %q", subject.Alert.Title)
	}
	if subject != nil && subject.Vulnerability != nil {
		name = fmt.Sprintf("%s on %s", subject.Vulnerability.CVEID, subject.Vulnerability.DeviceID)
	}

	switch ev.Type {
	case channel.EntityCreated:
		return fmt.Sprintf("%s created (%s)", name, to)
	case channel.EntityRemoved:
		return name + " removed"
	}
	if from != to && from != "" {
		return fmt.Sprintf("%s %s -> %s", name, from, to)
	}
	return name + " updated"
}
