package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three lifecycle-bearing entity kinds.
type Kind string

// Kind constants.
const (
	KindDevice        Kind = "device"
	KindAlert         Kind = "alert"
	KindVulnerability Kind = "vulnerability"
)

// AllKinds returns every entity kind, owners first.
func AllKinds() []Kind {
	return []Kind{KindDevice, KindAlert, KindVulnerability}
}

// Valid reports whether k is a recognised kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDevice, KindAlert, KindVulnerability:
		return true
	}
	return false
}

// ParseKind converts a string (singular or plural) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "device", "devices":
		return KindDevice, nil
	case "alert", "alerts":
		return KindAlert, nil
	case "vulnerability", "vulnerabilities":
		return KindVulnerability, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// DeviceStatus is the operational status of a device.
type DeviceStatus string

// DeviceStatus constants.
const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceUnknown DeviceStatus = "unknown"
)

// AllDeviceStatuses returns every device status.
func AllDeviceStatuses() []DeviceStatus {
	return []DeviceStatus{DeviceOnline, DeviceOffline, DeviceUnknown}
}

// AlertStatus is the investigation state of an alert.
type AlertStatus string

// AlertStatus constants.
const (
	AlertOpen          AlertStatus = "open"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// AllAlertStatuses returns every alert status.
func AllAlertStatuses() []AlertStatus {
	return []AlertStatus{AlertOpen, AlertInvestigating, AlertResolved, AlertFalsePositive}
}

// Terminal reports whether the alert is closed.
// Closed alerts never reopen.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// PatchStatus is the remediation state of a vulnerability.
type PatchStatus string

// PatchStatus constants.
const (
	PatchUnpatched  PatchStatus = "unpatched"
	PatchInProgress PatchStatus = "in_progress"
	PatchPatched    PatchStatus = "patched"
	PatchMitigated  PatchStatus = "mitigated"
)

// AllPatchStatuses returns every patch status.
func AllPatchStatuses() []PatchStatus {
	return []PatchStatus{PatchUnpatched, PatchInProgress, PatchPatched, PatchMitigated}
}

// Terminal reports whether remediation is finished.
func (s PatchStatus) Terminal() bool {
	return s == PatchPatched || s == PatchMitigated
}

// Severity classifies alerts and vulnerabilities.
type Severity string

// Severity constants.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AllSeverities returns every severity, lowest first.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// ParseSeverity converts a case-insensitive string to a Severity.
// Ingestion sources send lower-case values ("medium").
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllSeverities() {
		if sev == known {
			return sev, nil
		}
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidEntity, s)
}

// UnmarshalJSON accepts severities in any case. An empty string is kept
// as-is so validation can report it.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	sev, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Device is a monitored network device.
type Device struct {
	ID string `json:"id"`

	// Network identity
	IPAddress  string  `json:"ip_address"`
	MACAddress *string `json:"mac_address,omitempty"`

	// Classification (all unknown-tolerant)
	DeviceType      *string `json:"device_type,omitempty"`
	Vendor          *string `json:"vendor,omitempty"`
	Model           *string `json:"model,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`

	Status          DeviceStatus `json:"status"`
	RiskScore       float64      `json:"risk_score"`
	ConfidenceScore float64      `json:"confidence_score"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Alert is a security alert raised against one device.
type Alert struct {
	ID          string      `json:"id"`
	DeviceID    string      `json:"device_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	AlertType   string      `json:"alert_type,omitempty"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Confidence  float64     `json:"confidence"`
	CreatedAt   time.Time   `json:"created_at"`

	// ResolvedAt is set if and only if Status is terminal.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Vulnerability is a known CVE affecting one device.
type Vulnerability struct {
	ID           string      `json:"id"`
	DeviceID     string      `json:"device_id"`
	CVEID        string      `json:"cve_id"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description,omitempty"`
	CVSSScore    float64     `json:"cvss_score"`
	Severity     Severity    `json:"severity"`
	PatchStatus  PatchStatus `json:"patch_status"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// Key identifies an entity independently of its kind-specific payload.
type Key struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// String returns "kind/id".
func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Snapshot is the full field-set of an entity at one version.
//
// Exactly one of Device, Alert or Vulnerability is set, matching Kind.
// Snapshots held by the store are never modified; use Clone before editing.
type Snapshot struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	Device        *Device        `json:"device,omitempty"`
	Alert         *Alert         `json:"alert,omitempty"`
	Vulnerability *Vulnerability `json:"vulnerability,omitempty"`
}

// NewDeviceSnapshot wraps a device in a version-1 snapshot.
func NewDeviceSnapshot(d Device) *Snapshot {
	return &Snapshot{Kind: KindDevice, ID: d.ID, Version: 1, Device: &d}
}

// NewAlertSnapshot wraps an alert in a version-1 snapshot.
func NewAlertSnapshot(a Alert) *Snapshot {
	return &Snapshot{Kind: KindAlert, ID: a.ID, Version: 1, Alert: &a}
}

// NewVulnerabilitySnapshot wraps a vulnerability in a version-1 snapshot.
func NewVulnerabilitySnapshot(v Vulnerability) *Snapshot {
	return &Snapshot{Kind: KindVulnerability, ID: v.ID, Version: 1, Vulnerability: &v}
}

// Key returns the snapshot's (kind, id) key.
func (s *Snapshot) Key() Key {
	return Key{Kind: s.Kind, ID: s.ID}
}

// Status returns the lifecycle status of the snapshot as a string:
// device status, alert status, or vulnerability patch status.
func (s *Snapshot) Status() string {
	switch s.Kind {
	case KindDevice:
		if s.Device != nil {
			return string(s.Device.Status)
		}
	case KindAlert:
		if s.Alert != nil {
			return string(s.Alert.Status)
		}
	case KindVulnerability:
		if s.Vulnerability != nil {
			return string(s.Vulnerability.PatchStatus)
		}
	}
	return ""
}

// OwnerID returns the owning device ID for alerts and vulnerabilities,
// or "" for devices.
func (s *Snapshot) OwnerID() string {
	switch {
	case s.Alert != nil:
		return s.Alert.DeviceID
	case s.Vulnerability != nil:
		return s.Vulnerability.DeviceID
	}
	return ""
}

// Clone creates an independent copy of the snapshot.
// Pointer fields to strings and times are shared; both are immutable.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.Device != nil {
		d := *s.Device
		cpy.Device = &d
	}
	if s.Alert != nil {
		a := *s.Alert
		cpy.Alert = &a
	}
	if s.Vulnerability != nil {
		v := *s.Vulnerability
		cpy.Vulnerability = &v
	}
	return &cpy
}

// Tombstone records the final version of a removed entity so that late
// or duplicated events for it can be recognised as stale.
type Tombstone struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	RemovedAt time.Time `json:"removed_at"`
}

// Key returns the tombstone's (kind, id) key.
func (t Tombstone) Key() Key {
	return Key{Kind: t.Kind, ID: t.ID}
}

// Baseline is the full authoritative state returned by fetch_snapshot.
type Baseline struct {
	Entities   []*Snapshot `json:"entities"`
	Tombstones []Tombstone `json:"tombstones,omitempty"`
	TakenAt    time.Time   `json:"taken_at"`
}

// FieldChange is one entry of the field diff carried by entity_changed.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}
