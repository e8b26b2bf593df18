package store

import (
	"testing"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

func TestListDevices_FiltersAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	devices := []entity.Device{
		{ID: "cam-1", IPAddress: "192.168.1.10", DeviceType: ptr("camera"), Vendor: ptr("Hikvision"), Status: entity.DeviceOnline, RiskScore: 0.8, LastSeen: base.Add(3 * time.Hour)},
		{ID: "cam-2", IPAddress: "192.168.1.11", DeviceType: ptr("camera"), Vendor: ptr("Axis"), Status: entity.DeviceOffline, RiskScore: 0.3, LastSeen: base.Add(1 * time.Hour)},
		{ID: "plug-1", IPAddress: "192.168.1.20", DeviceType: ptr("smart_plug"), Vendor: ptr("TP-Link"), Status: entity.DeviceOnline, RiskScore: 0.5, LastSeen: base.Add(2 * time.Hour)},
	}
	for _, d := range devices {
		d.FirstSeen = base
		mustCreate(t, s, entity.NewDeviceSnapshot(d))
	}

	tests := []struct {
		name   string
		filter DeviceFilter
		want   []string
	}{
		{"all by last_seen", DeviceFilter{}, []string{"cam-1", "plug-1", "cam-2"}},
		{"type", DeviceFilter{Type: "CAMERA"}, []string{"cam-1", "cam-2"}},
		{"vendor", DeviceFilter{Vendor: "axis"}, []string{"cam-2"}},
		{"status", DeviceFilter{Status: entity.DeviceOnline}, []string{"cam-1", "plug-1"}},
		{"min risk", DeviceFilter{MinRisk: ptr(0.5)}, []string{"cam-1", "plug-1"}},
		{"search ip", DeviceFilter{Search: "1.20"}, []string{"plug-1"}},
		{"search vendor", DeviceFilter{Search: "hik"}, []string{"cam-1"}},
		{"page 2 size 2", DeviceFilter{Page: 2, Size: 2}, []string{"cam-2"}},
		{"past the end", DeviceFilter{Page: 5, Size: 2}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := s.ListDevices(tt.filter)
			if len(page.Items) != len(tt.want) {
				t.Fatalf("got %d items, want %v", len(page.Items), tt.want)
			}
			for i, id := range tt.want {
				if page.Items[i].ID != id {
					t.Errorf("item %d = %s, want %s", i, page.Items[i].ID, id)
				}
			}
		})
	}
}

func TestPaginate_ClampsSize(t *testing.T) {
	p := paginate(nil, 0, 5000)
	if p.Size != MaxPageSize || p.Page != 1 {
		t.Errorf("paginate = page %d size %d", p.Page, p.Size)
	}
	if p.Items == nil {
		t.Error("empty page must have a non-nil item slice")
	}
}

func TestListAlertsAndVulnerabilities(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreate(t, s, testDevice("dev-1"))
	mustCreate(t, s, testDevice("dev-2"))

	low := testAlert("a-low", "dev-1")
	low.Alert.Severity = entity.SeverityLow
	mustCreate(t, s, low)
	mustCreate(t, s, testAlert("a-high", "dev-2"))

	v1 := testVulnerability("v-1", "dev-1")
	v1.Vulnerability.CVSSScore = 9.8
	mustCreate(t, s, v1)
	mustCreate(t, s, testVulnerability("v-2", "dev-1"))

	if page := s.ListAlerts(AlertFilter{Severity: entity.SeverityHigh}); page.Total != 1 || page.Items[0].ID != "a-high" {
		t.Errorf("severity filter = %+v", page)
	}
	if page := s.ListAlerts(AlertFilter{DeviceID: "dev-1"}); page.Total != 1 {
		t.Errorf("device filter total = %d", page.Total)
	}

	page := s.ListVulnerabilities(VulnerabilityFilter{DeviceID: "dev-1"})
	if page.Total != 2 || page.Items[0].ID != "v-1" {
		t.Errorf("vulnerabilities = %+v", page.Items)
	}
	if page := s.ListVulnerabilities(VulnerabilityFilter{PatchStatus: entity.PatchPatched}); page.Total != 0 {
		t.Errorf("patch filter total = %d", page.Total)
	}
}
