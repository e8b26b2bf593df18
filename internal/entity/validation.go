package entity

import (
	"fmt"
	"net"
	"regexp"
)

// Score bounds.
const (
	minUnitScore = 0.0
	maxUnitScore = 1.0
	minCVSS      = 0.0
	maxCVSS      = 10.0

	maxTitleLength = 200
)

var cveRegex = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Pre-computed validation sets for O(1) lookups.
var (
	validDeviceStatuses map[DeviceStatus]struct{}
	validAlertStatuses  map[AlertStatus]struct{}
	validPatchStatuses  map[PatchStatus]struct{}
	validSeverities     map[Severity]struct{}
)

func init() {
	validDeviceStatuses = make(map[DeviceStatus]struct{}, len(AllDeviceStatuses()))
	for _, s := range AllDeviceStatuses() {
		validDeviceStatuses[s] = struct{}{}
	}

	validAlertStatuses = make(map[AlertStatus]struct{}, len(AllAlertStatuses()))
	for _, s := range AllAlertStatuses() {
		validAlertStatuses[s] = struct{}{}
	}

	validPatchStatuses = make(map[PatchStatus]struct{}, len(AllPatchStatuses()))
	for _, s := range AllPatchStatuses() {
		validPatchStatuses[s] = struct{}{}
	}

	validSeverities = make(map[Severity]struct{}, len(AllSeverities()))
	for _, s := range AllSeverities() {
		validSeverities[s] = struct{}{}
	}
}

// IsValidDeviceStatus checks if a device status is recognised.
func IsValidDeviceStatus(s DeviceStatus) bool {
	_, ok := validDeviceStatuses[s]
	return ok
}

// IsValidAlertStatus checks if an alert status is recognised.
func IsValidAlertStatus(s AlertStatus) bool {
	_, ok := validAlertStatuses[s]
	return ok
}

// IsValidPatchStatus checks if a patch status is recognised.
func IsValidPatchStatus(s PatchStatus) bool {
	_, ok := validPatchStatuses[s]
	return ok
}

// IsValidSeverity checks if a severity is recognised.
func IsValidSeverity(s Severity) bool {
	_, ok := validSeverities[s]
	return ok
}

// ValidateSnapshot checks that a snapshot is internally consistent:
// payload matches kind, enums are known, scores are in range, and
// alert resolved_at is present iff the alert is closed.
func ValidateSnapshot(s *Snapshot) error {
	if s == nil {
		return ErrInvalidEntity
	}
	if !s.Kind.Valid() {
		return ErrInvalidKind
	}
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}

	switch s.Kind {
	case KindDevice:
		if s.Device == nil || s.Alert != nil || s.Vulnerability != nil {
			return fmt.Errorf("%w: device snapshot must carry only a device", ErrInvalidEntity)
		}
		if s.Device.ID != s.ID {
			return fmt.Errorf("%w: payload id mismatch", ErrInvalidEntity)
		}
		return ValidateDevice(s.Device)
	case KindAlert:
		if s.Alert == nil || s.Device != nil || s.Vulnerability != nil {
			return fmt.Errorf("%w: alert snapshot must carry only an alert", ErrInvalidEntity)
		}
		if s.Alert.ID != s.ID {
			return fmt.Errorf("%w: payload id mismatch", ErrInvalidEntity)
		}
		return ValidateAlert(s.Alert)
	default:
		if s.Vulnerability == nil || s.Device != nil || s.Alert != nil {
			return fmt.Errorf("%w: vulnerability snapshot must carry only a vulnerability", ErrInvalidEntity)
		}
		if s.Vulnerability.ID != s.ID {
			return fmt.Errorf("%w: payload id mismatch", ErrInvalidEntity)
		}
		return ValidateVulnerability(s.Vulnerability)
	}
}

// ValidateDevice checks a device's fields.
func ValidateDevice(d *Device) error {
	if d.IPAddress == "" || net.ParseIP(d.IPAddress) == nil {
		return fmt.Errorf("%w: invalid ip address %q", ErrInvalidEntity, d.IPAddress)
	}
	if d.MACAddress != nil {
		if _, err := net.ParseMAC(*d.MACAddress); err != nil {
			return fmt.Errorf("%w: invalid mac address %q", ErrInvalidEntity, *d.MACAddress)
		}
	}
	if !IsValidDeviceStatus(d.Status) {
		return fmt.Errorf("%w: unknown device status %q", ErrInvalidEntity, d.Status)
	}
	if err := checkRange("risk_score", d.RiskScore, minUnitScore, maxUnitScore); err != nil {
		return err
	}
	return checkRange("confidence_score", d.ConfidenceScore, minUnitScore, maxUnitScore)
}

// ValidateAlert checks an alert's fields.
func ValidateAlert(a *Alert) error {
	if a.DeviceID == "" {
		return fmt.Errorf("%w: alert must reference a device", ErrInvalidEntity)
	}
	if a.Title == "" || len(a.Title) > maxTitleLength {
		return fmt.Errorf("%w: alert title must be 1-%d characters", ErrInvalidEntity, maxTitleLength)
	}
	if !IsValidSeverity(a.Severity) {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEntity, a.Severity)
	}
	if !IsValidAlertStatus(a.Status) {
		return fmt.Errorf("%w: unknown alert status %q", ErrInvalidEntity, a.Status)
	}
	if a.Status.Terminal() != (a.ResolvedAt != nil) {
		return fmt.Errorf("%w: resolved_at must be set iff alert is closed", ErrInvalidEntity)
	}
	return checkRange("confidence", a.Confidence, minUnitScore, maxUnitScore)
}

// ValidateVulnerability checks a vulnerability's fields.
func ValidateVulnerability(v *Vulnerability) error {
	if v.DeviceID == "" {
		return fmt.Errorf("%w: vulnerability must reference a device", ErrInvalidEntity)
	}
	if !cveRegex.MatchString(v.CVEID) {
		return fmt.Errorf("%w: invalid CVE identifier %q", ErrInvalidEntity, v.CVEID)
	}
	if !IsValidSeverity(v.Severity) {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEntity, v.Severity)
	}
	if !IsValidPatchStatus(v.PatchStatus) {
		return fmt.Errorf("%w: unknown patch status %q", ErrInvalidEntity, v.PatchStatus)
	}
	return checkRange("cvss_score", v.CVSSScore, minCVSS, maxCVSS)
}

func checkRange(field string, v, lo, hi float64) error {
	if v < lo || v > hi || v != v { // v != v catches NaN
		return fmt.Errorf("%w: %s=%v not in [%v,%v]", ErrOutOfRange, field, v, lo, hi)
	}
	return nil
}
