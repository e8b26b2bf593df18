package reconcile

import (
	"testing"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

func deviceSnap(id string, version int64, status entity.DeviceStatus) *entity.Snapshot {
	s := entity.NewDeviceSnapshot(entity.Device{ID: id, IPAddress: "10.0.0.7", Status: status})
	s.Version = version
	return s
}

func TestProjection_ResetKeepsTombstoneVersions(t *testing.T) {
	p := NewProjection()
	p.put(deviceSnap("old", 9, entity.DeviceOnline))

	p.reset(entity.Baseline{
		Entities: []*entity.Snapshot{deviceSnap("dev-1", 4, entity.DeviceOnline)},
		Tombstones: []entity.Tombstone{
			{Kind: entity.KindDevice, ID: "gone", Version: 6, RemovedAt: time.Now()},
		},
	})

	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
	if got := p.Get(entity.KindDevice, "old"); got != nil {
		t.Errorf("entity absent from baseline survived reset: %+v", got)
	}
	tests := []struct {
		id   string
		want int64
	}{
		{"dev-1", 4},
		{"gone", 6},
		{"old", 0},
	}
	for _, tt := range tests {
		if got := p.Version(entity.Key{Kind: entity.KindDevice, ID: tt.id}); got != tt.want {
			t.Errorf("Version(%s) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestProjection_GetReturnsCopy(t *testing.T) {
	p := NewProjection()
	p.put(deviceSnap("dev-1", 1, entity.DeviceOnline))

	got := p.Get(entity.KindDevice, "dev-1")
	got.Device.Status = entity.DeviceOffline

	if again := p.Get(entity.KindDevice, "dev-1"); again.Device.Status != entity.DeviceOnline {
		t.Errorf("projection mutated through Get: status = %s", again.Device.Status)
	}
}

func TestProjection_RemoveRecordsVersion(t *testing.T) {
	p := NewProjection()
	p.put(deviceSnap("dev-1", 2, entity.DeviceOnline))

	before := p.remove(entity.Key{Kind: entity.KindDevice, ID: "dev-1"}, 3)
	if before == nil || before.Version != 2 {
		t.Fatalf("remove() before = %+v", before)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d after remove", p.Len())
	}
	if v := p.Version(entity.Key{Kind: entity.KindDevice, ID: "dev-1"}); v != 3 {
		t.Errorf("Version() = %d, want 3", v)
	}
}

func TestProjection_SnapshotsOrdered(t *testing.T) {
	p := NewProjection()
	alert := entity.NewAlertSnapshot(entity.Alert{
		ID: "a-1", DeviceID: "dev-1", Title: "x", Severity: entity.SeverityLow, Status: entity.AlertOpen,
	})
	p.put(alert)
	p.put(deviceSnap("dev-b", 1, entity.DeviceOnline))
	p.put(deviceSnap("dev-a", 1, entity.DeviceOnline))

	snaps := p.Snapshots()
	var got []string
	for _, s := range snaps {
		got = append(got, s.Key().String())
	}
	want := []string{"device/dev-a", "device/dev-b", "alert/a-1"}
	if len(got) != len(want) {
		t.Fatalf("Snapshots() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshots()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
