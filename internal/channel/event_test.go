package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

func testAlertSnapshot(version int64) *entity.Snapshot {
	snap := entity.NewAlertSnapshot(entity.Alert{
		ID:        "a-1",
		DeviceID:  "dev-1",
		Title:     "Telnet exposed",
		Severity:  entity.SeverityHigh,
		Status:    entity.AlertOpen,
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	snap.Version = version
	snap.UpdatedAt = snap.Alert.CreatedAt
	return snap
}

func TestEvent_Validate(t *testing.T) {
	valid := NewCreated(testAlertSnapshot(1))

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"created", func(*Event) {}, false},
		{"changed", func(e *Event) { e.Type = EntityChanged }, false},
		{"removed without payload", func(e *Event) { e.Type = EntityRemoved; e.Payload = nil }, false},
		{"bad kind", func(e *Event) { e.Kind = "router" }, true},
		{"zero version", func(e *Event) { e.Version = 0 }, true},
		{"missing id", func(e *Event) { e.ID = "" }, true},
		{"unknown type", func(e *Event) { e.Type = "entity_moved" }, true},
		{"changed without payload", func(e *Event) { e.Type = EntityChanged; e.Payload = nil }, true},
		{"payload version mismatch", func(e *Event) { e.Version = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			ev.Payload = valid.Payload.Clone()
			tt.mutate(&ev)
			err := ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("Validate() error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestEncodeDecode_WireFields(t *testing.T) {
	ev := NewChanged(testAlertSnapshot(3), []entity.FieldChange{{Field: "status", Old: "open", New: "investigating"}})

	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Type != EntityChanged || got.Version != 3 || got.OwnerID != "dev-1" {
		t.Errorf("decoded = %+v", got)
	}
	if len(got.Changes) != 1 || got.Changes[0].Field != "status" {
		t.Errorf("changes = %+v", got.Changes)
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"kind":"alert","id":"a-1","event_type":"entity_created","version":1}`,
	} {
		if _, err := Decode([]byte(payload)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformedEvent", payload, err)
		}
	}
}

func TestNewCreated_CopiesPayload(t *testing.T) {
	snap := testAlertSnapshot(1)
	ev := NewCreated(snap)
	snap.Alert.Title = "changed after publish"

	if ev.Payload.Alert.Title != "Telnet exposed" {
		t.Error("event payload aliases the caller's snapshot")
	}
}

func TestNewRemoved(t *testing.T) {
	ts := entity.Tombstone{Kind: entity.KindAlert, ID: "a-1", Version: 4, RemovedAt: time.Now()}
	ev := NewRemoved(ts, "dev-1")

	if ev.Type != EntityRemoved || ev.Version != 4 || ev.Payload != nil || ev.OwnerID != "dev-1" {
		t.Errorf("removed = %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestChannelName(t *testing.T) {
	if got := ChannelName(entity.KindVulnerability); got != "entity.vulnerability" {
		t.Errorf("ChannelName = %q", got)
	}
	if kind, ok := KindOfChannel("entity.alert"); !ok || kind != entity.KindAlert {
		t.Errorf("KindOfChannel(entity.alert) = %q, %v", kind, ok)
	}
	for _, bad := range []string{"entity.router", "alert", "device.state_changed"} {
		if _, ok := KindOfChannel(bad); ok {
			t.Errorf("KindOfChannel(%q) accepted", bad)
		}
	}
}
