package entity

import (
	"fmt"
	"time"
)

// Mutation is a proposed change to one entity, as submitted through
// propose_mutation.
//
// SourceVersion is the version the caller last observed. The store rejects
// the mutation as stale when SourceVersion is below its current version.
// Only the patch matching the target kind may be set.
type Mutation struct {
	SourceVersion int64               `json:"source_version"`
	Device        *DevicePatch        `json:"device,omitempty"`
	Alert         *AlertPatch         `json:"alert,omitempty"`
	Vulnerability *VulnerabilityPatch `json:"vulnerability,omitempty"`
}

// DevicePatch holds optional device field changes. Nil fields are unchanged.
type DevicePatch struct {
	Status          *DeviceStatus `json:"status,omitempty"`
	RiskScore       *float64      `json:"risk_score,omitempty"`
	ConfidenceScore *float64      `json:"confidence_score,omitempty"`
	LastSeen        *time.Time    `json:"last_seen,omitempty"`
	IPAddress       *string       `json:"ip_address,omitempty"`
	MACAddress      *string       `json:"mac_address,omitempty"`
	DeviceType      *string       `json:"device_type,omitempty"`
	Vendor          *string       `json:"vendor,omitempty"`
	Model           *string       `json:"model,omitempty"`
	FirmwareVersion *string       `json:"firmware_version,omitempty"`
}

// AlertPatch holds optional alert field changes.
// Severity is immutable after creation and has no patch field.
type AlertPatch struct {
	Status      *AlertStatus `json:"status,omitempty"`
	Confidence  *float64     `json:"confidence,omitempty"`
	Description *string      `json:"description,omitempty"`
}

// VulnerabilityPatch holds optional vulnerability field changes.
type VulnerabilityPatch struct {
	PatchStatus *PatchStatus `json:"patch_status,omitempty"`
	CVSSScore   *float64     `json:"cvss_score,omitempty"`
	Severity    *Severity    `json:"severity,omitempty"`
}

// ProposedStatus returns the status the mutation would move kind to,
// and false when the mutation leaves status untouched.
func (m *Mutation) ProposedStatus(kind Kind) (string, bool) {
	switch kind {
	case KindDevice:
		if m.Device != nil && m.Device.Status != nil {
			return string(*m.Device.Status), true
		}
	case KindAlert:
		if m.Alert != nil && m.Alert.Status != nil {
			return string(*m.Alert.Status), true
		}
	case KindVulnerability:
		if m.Vulnerability != nil && m.Vulnerability.PatchStatus != nil {
			return string(*m.Vulnerability.PatchStatus), true
		}
	}
	return "", false
}

// checkKind verifies only the patch for kind is present.
func (m *Mutation) checkKind(kind Kind) error {
	set := 0
	var got Kind
	if m.Device != nil {
		set++
		got = KindDevice
	}
	if m.Alert != nil {
		set++
		got = KindAlert
	}
	if m.Vulnerability != nil {
		set++
		got = KindVulnerability
	}
	if set > 1 || (set == 1 && got != kind) {
		return fmt.Errorf("%w: target is %s", ErrPatchMismatch, kind)
	}
	return nil
}

// ApplyTo computes the snapshot that results from applying m to cur.
//
// The returned snapshot is a clone; cur is never modified. Version and
// UpdatedAt are left for the store to assign. The returned diff is empty
// when the mutation changes nothing (a no-op). Status transitions are NOT
// checked here; the caller runs the lifecycle validator first.
//
// Two invariants are maintained while applying:
//   - an alert moving to a terminal status gets ResolvedAt = now
//   - a device's LastSeen never moves backwards (older values are ignored)
func (m *Mutation) ApplyTo(cur *Snapshot, now time.Time) (*Snapshot, []FieldChange, error) {
	if err := m.checkKind(cur.Kind); err != nil {
		return nil, nil, err
	}

	next := cur.Clone()
	var diff []FieldChange

	switch cur.Kind {
	case KindDevice:
		diff = m.Device.apply(next.Device)
	case KindAlert:
		diff = m.Alert.apply(next.Alert, now)
	case KindVulnerability:
		diff = m.Vulnerability.apply(next.Vulnerability)
	default:
		return nil, nil, ErrInvalidKind
	}

	if len(diff) == 0 {
		return cur, nil, nil
	}
	if err := ValidateSnapshot(next); err != nil {
		return nil, nil, err
	}
	return next, diff, nil
}

func (p *DevicePatch) apply(d *Device) []FieldChange {
	if p == nil {
		return nil
	}
	var diff []FieldChange
	if p.Status != nil && *p.Status != d.Status {
		diff = append(diff, FieldChange{Field: "status", Old: d.Status, New: *p.Status})
		d.Status = *p.Status
	}
	if p.RiskScore != nil && *p.RiskScore != d.RiskScore {
		diff = append(diff, FieldChange{Field: "risk_score", Old: d.RiskScore, New: *p.RiskScore})
		d.RiskScore = *p.RiskScore
	}
	if p.ConfidenceScore != nil && *p.ConfidenceScore != d.ConfidenceScore {
		diff = append(diff, FieldChange{Field: "confidence_score", Old: d.ConfidenceScore, New: *p.ConfidenceScore})
		d.ConfidenceScore = *p.ConfidenceScore
	}
	if p.LastSeen != nil && p.LastSeen.After(d.LastSeen) {
		diff = append(diff, FieldChange{Field: "last_seen", Old: d.LastSeen, New: *p.LastSeen})
		d.LastSeen = *p.LastSeen
	}
	if p.IPAddress != nil && *p.IPAddress != d.IPAddress {
		diff = append(diff, FieldChange{Field: "ip_address", Old: d.IPAddress, New: *p.IPAddress})
		d.IPAddress = *p.IPAddress
	}
	diff = patchOptional(diff, "mac_address", &d.MACAddress, p.MACAddress)
	diff = patchOptional(diff, "device_type", &d.DeviceType, p.DeviceType)
	diff = patchOptional(diff, "vendor", &d.Vendor, p.Vendor)
	diff = patchOptional(diff, "model", &d.Model, p.Model)
	diff = patchOptional(diff, "firmware_version", &d.FirmwareVersion, p.FirmwareVersion)
	return diff
}

func (p *AlertPatch) apply(a *Alert, now time.Time) []FieldChange {
	if p == nil {
		return nil
	}
	var diff []FieldChange
	if p.Status != nil && *p.Status != a.Status {
		diff = append(diff, FieldChange{Field: "status", Old: a.Status, New: *p.Status})
		a.Status = *p.Status
		if a.Status.Terminal() {
			resolved := now.UTC()
			diff = append(diff, FieldChange{Field: "resolved_at", Old: a.ResolvedAt, New: resolved})
			a.ResolvedAt = &resolved
		} else if a.ResolvedAt != nil {
			diff = append(diff, FieldChange{Field: "resolved_at", Old: a.ResolvedAt, New: nil})
			a.ResolvedAt = nil
		}
	}
	if p.Confidence != nil && *p.Confidence != a.Confidence {
		diff = append(diff, FieldChange{Field: "confidence", Old: a.Confidence, New: *p.Confidence})
		a.Confidence = *p.Confidence
	}
	if p.Description != nil && *p.Description != a.Description {
		diff = append(diff, FieldChange{Field: "description", Old: a.Description, New: *p.Description})
		a.Description = *p.Description
	}
	return diff
}

func (p *VulnerabilityPatch) apply(v *Vulnerability) []FieldChange {
	if p == nil {
		return nil
	}
	var diff []FieldChange
	if p.PatchStatus != nil && *p.PatchStatus != v.PatchStatus {
		diff = append(diff, FieldChange{Field: "patch_status", Old: v.PatchStatus, New: *p.PatchStatus})
		v.PatchStatus = *p.PatchStatus
	}
	if p.CVSSScore != nil && *p.CVSSScore != v.CVSSScore {
		diff = append(diff, FieldChange{Field: "cvss_score", Old: v.CVSSScore, New: *p.CVSSScore})
		v.CVSSScore = *p.CVSSScore
	}
	if p.Severity != nil && *p.Severity != v.Severity {
		diff = append(diff, FieldChange{Field: "severity", Old: v.Severity, New: *p.Severity})
		v.Severity = *p.Severity
	}
	return diff
}

// patchOptional applies an optional string field. An empty string in the
// patch clears the field.
func patchOptional(diff []FieldChange, field string, cur **string, val *string) []FieldChange {
	if val == nil {
		return diff
	}
	var next *string
	if *val != "" {
		v := *val
		next = &v
	}
	if derefString(*cur) == derefString(next) {
		return diff
	}
	diff = append(diff, FieldChange{Field: field, Old: derefString(*cur), New: derefString(next)})
	*cur = next
	return diff
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
