package store

import (
	"sort"
	"strings"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Paging limits for list queries.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// DeviceFilter selects devices for ListDevices. Zero fields match everything.
type DeviceFilter struct {
	Type    string
	Vendor  string
	Status  entity.DeviceStatus
	MinRisk *float64

	// Search matches device type, vendor or IP address, case-insensitively.
	Search string

	Page int // 1-based
	Size int
}

// AlertFilter selects alerts for ListAlerts.
type AlertFilter struct {
	DeviceID string
	Status   entity.AlertStatus
	Severity entity.Severity
	Page     int
	Size     int
}

// VulnerabilityFilter selects vulnerabilities for ListVulnerabilities.
type VulnerabilityFilter struct {
	DeviceID    string
	PatchStatus entity.PatchStatus
	Page        int
	Size        int
}

// Page is one page of list results.
type Page struct {
	Items []*entity.Snapshot `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
}

// ListDevices returns devices matching f, most recently seen first.
func (s *Store) ListDevices(f DeviceFilter) Page {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	matches := s.collect(entity.KindDevice, func(snap *entity.Snapshot) bool {
		d := snap.Device
		if f.Type != "" && !strings.EqualFold(deref(d.DeviceType), f.Type) {
			return false
		}
		if f.Vendor != "" && !strings.EqualFold(deref(d.Vendor), f.Vendor) {
			return false
		}
		if f.Status != "" && d.Status != f.Status {
			return false
		}
		if f.MinRisk != nil && d.RiskScore < *f.MinRisk {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(deref(d.DeviceType)), search) &&
			!strings.Contains(strings.ToLower(deref(d.Vendor)), search) &&
			!strings.Contains(d.IPAddress, search) {
			return false
		}
		return true
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Device, matches[j].Device
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
	return paginate(matches, f.Page, f.Size)
}

// ListAlerts returns alerts matching f, newest first.
func (s *Store) ListAlerts(f AlertFilter) Page {
	matches := s.collect(entity.KindAlert, func(snap *entity.Snapshot) bool {
		a := snap.Alert
		return (f.DeviceID == "" || a.DeviceID == f.DeviceID) &&
			(f.Status == "" || a.Status == f.Status) &&
			(f.Severity == "" || a.Severity == f.Severity)
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Alert, matches[j].Alert
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return paginate(matches, f.Page, f.Size)
}

// ListVulnerabilities returns vulnerabilities matching f, highest CVSS first.
func (s *Store) ListVulnerabilities(f VulnerabilityFilter) Page {
	matches := s.collect(entity.KindVulnerability, func(snap *entity.Snapshot) bool {
		v := snap.Vulnerability
		return (f.DeviceID == "" || v.DeviceID == f.DeviceID) &&
			(f.PatchStatus == "" || v.PatchStatus == f.PatchStatus)
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Vulnerability, matches[j].Vulnerability
		if a.CVSSScore != b.CVSSScore {
			return a.CVSSScore > b.CVSSScore
		}
		return a.ID < b.ID
	})
	return paginate(matches, f.Page, f.Size)
}

func (s *Store) collect(kind entity.Kind, match func(*entity.Snapshot) bool) []*entity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Snapshot
	for k, snap := range s.entities {
		if k.Kind == kind && match(snap) {
			out = append(out, snap.Clone())
		}
	}
	return out
}

func paginate(items []*entity.Snapshot, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	p := Page{Total: len(items), Page: page, Size: size, Items: []*entity.Snapshot{}}
	start := (page - 1) * size
	if start >= len(items) {
		return p
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	p.Items = items[start:end]
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
