package entity

import (
	"errors"
	"testing"
	"time"
)

func testDevice() *Snapshot {
	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	return NewDeviceSnapshot(Device{
		ID:        "dev-1",
		IPAddress: "192.168.1.20",
		Status:    DeviceOnline,
		RiskScore: 0.2,
		FirstSeen: t0,
		LastSeen:  t0,
	})
}

func testAlert(status AlertStatus) *Snapshot {
	a := Alert{
		ID:        "alert-1",
		DeviceID:  "dev-1",
		Title:     "Port scan detected",
		Severity:  SeverityHigh,
		Status:    status,
		CreatedAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	if status.Terminal() {
		ts := a.CreatedAt.Add(time.Hour)
		a.ResolvedAt = &ts
	}
	return NewAlertSnapshot(a)
}

func ptr[T any](v T) *T { return &v }

func TestApplyTo_DeviceStatusChange(t *testing.T) {
	cur := testDevice()
	m := Mutation{SourceVersion: 1, Device: &DevicePatch{Status: ptr(DeviceOffline)}}

	next, diff, err := m.ApplyTo(cur, time.Now())
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if next.Device.Status != DeviceOffline {
		t.Errorf("status = %q, want offline", next.Device.Status)
	}
	if cur.Device.Status != DeviceOnline {
		t.Error("ApplyTo modified the current snapshot")
	}
	if len(diff) != 1 || diff[0].Field != "status" {
		t.Errorf("diff = %+v, want single status change", diff)
	}
}

func TestApplyTo_NoOpReturnsEmptyDiff(t *testing.T) {
	cur := testDevice()
	m := Mutation{Device: &DevicePatch{Status: ptr(DeviceOnline), RiskScore: ptr(0.2)}}

	next, diff, err := m.ApplyTo(cur, time.Now())
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if len(diff) != 0 {
		t.Errorf("diff = %+v, want empty", diff)
	}
	if next != cur {
		t.Error("no-op should return the current snapshot")
	}
}

func TestApplyTo_LastSeenNeverDecreases(t *testing.T) {
	cur := testDevice()
	earlier := cur.Device.LastSeen.Add(-time.Minute)
	later := cur.Device.LastSeen.Add(time.Minute)

	next, diff, err := (&Mutation{Device: &DevicePatch{LastSeen: &earlier}}).ApplyTo(cur, time.Now())
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if len(diff) != 0 || !next.Device.LastSeen.Equal(cur.Device.LastSeen) {
		t.Errorf("earlier last_seen must be ignored, got %v", next.Device.LastSeen)
	}

	next, _, err = (&Mutation{Device: &DevicePatch{LastSeen: &later}}).ApplyTo(cur, time.Now())
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if !next.Device.LastSeen.Equal(later) {
		t.Errorf("last_seen = %v, want %v", next.Device.LastSeen, later)
	}
}

func TestApplyTo_AlertResolvedAtSetOnTerminal(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	for _, target := range []AlertStatus{AlertResolved, AlertFalsePositive} {
		t.Run(string(target), func(t *testing.T) {
			m := Mutation{Alert: &AlertPatch{Status: ptr(target)}}
			next, _, err := m.ApplyTo(testAlert(AlertInvestigating), now)
			if err != nil {
				t.Fatalf("ApplyTo() error = %v", err)
			}
			if next.Alert.ResolvedAt == nil || !next.Alert.ResolvedAt.Equal(now) {
				t.Errorf("resolved_at = %v, want %v", next.Alert.ResolvedAt, now)
			}
		})
	}

	next, _, err := (&Mutation{Alert: &AlertPatch{Status: ptr(AlertInvestigating)}}).ApplyTo(testAlert(AlertOpen), now)
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if next.Alert.ResolvedAt != nil {
		t.Error("resolved_at must stay unset for non-terminal status")
	}
}

func TestApplyTo_OutOfRangeRejected(t *testing.T) {
	tests := []struct {
		name string
		cur  *Snapshot
		m    Mutation
	}{
		{"risk above 1", testDevice(), Mutation{Device: &DevicePatch{RiskScore: ptr(1.5)}}},
		{"confidence below 0", testDevice(), Mutation{Device: &DevicePatch{ConfidenceScore: ptr(-0.1)}}},
		{"alert confidence", testAlert(AlertOpen), Mutation{Alert: &AlertPatch{Confidence: ptr(2.0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.m.ApplyTo(tt.cur, time.Now())
			if !errors.Is(err, ErrOutOfRange) {
				t.Errorf("ApplyTo() error = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestApplyTo_PatchMismatch(t *testing.T) {
	m := Mutation{Alert: &AlertPatch{Status: ptr(AlertResolved)}}
	_, _, err := m.ApplyTo(testDevice(), time.Now())
	if !errors.Is(err, ErrPatchMismatch) {
		t.Errorf("ApplyTo() error = %v, want ErrPatchMismatch", err)
	}
	if ReasonOf(err) != ReasonInvalidEntity {
		t.Errorf("ReasonOf() = %q, want %q", ReasonOf(err), ReasonInvalidEntity)
	}
}

func TestApplyTo_OptionalFieldClearedByEmptyString(t *testing.T) {
	cur := testDevice()
	cur.Device.Vendor = ptr("Hikvision")

	next, diff, err := (&Mutation{Device: &DevicePatch{Vendor: ptr("")}}).ApplyTo(cur, time.Now())
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if next.Device.Vendor != nil {
		t.Errorf("vendor = %q, want cleared", *next.Device.Vendor)
	}
	if len(diff) != 1 || diff[0].Field != "vendor" {
		t.Errorf("diff = %+v", diff)
	}
}

func TestProposedStatus(t *testing.T) {
	m := Mutation{Vulnerability: &VulnerabilityPatch{PatchStatus: ptr(PatchPatched)}}
	if s, ok := m.ProposedStatus(KindVulnerability); !ok || s != "patched" {
		t.Errorf("ProposedStatus() = %q, %v", s, ok)
	}
	if _, ok := m.ProposedStatus(KindAlert); ok {
		t.Error("ProposedStatus(alert) should report no status change")
	}
}
