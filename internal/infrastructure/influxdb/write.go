package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTransition = "entity_transition"
	MeasurementExposure   = "device_exposure"
)

// Transition is one accepted status change of an entity.
type Transition struct {
	Kind    string
	ID      string
	OwnerID string // owning device; empty for devices
	From    string // empty on creation
	To      string
	Version int64
	At      time.Time
}

// Exposure is a point-in-time view of one device's open risk.
type Exposure struct {
	DeviceID       string
	RiskScore      float64
	OpenAlerts     int
	UnpatchedVulns int
	At             time.Time
}

// WriteTransition records a status change. Kind and target status are tags;
// the entity id stays a field to keep series cardinality bounded.
func (c *Client) WriteTransition(t Transition) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transitionPoint(t))
}

// WriteExposure records a device exposure sample.
func (c *Client) WriteExposure(e Exposure) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(exposurePoint(e))
}

func transitionPoint(t Transition) *write.Point {
	tags := map[string]string{
		"kind": t.Kind,
		"to":   t.To,
	}
	if t.From != "" {
		tags["from"] = t.From
	}
	fields := map[string]interface{}{
		"id":      t.ID,
		"version": t.Version,
	}
	if t.OwnerID != "" {
		fields["device_id"] = t.OwnerID
	}
	return write.NewPoint(MeasurementTransition, tags, fields, t.At)
}

func exposurePoint(e Exposure) *write.Point {
	return write.NewPoint(
		MeasurementExposure,
		map[string]string{"device_id": e.DeviceID},
		map[string]interface{}{
			"risk_score":      e.RiskScore,
			"open_alerts":     e.OpenAlerts,
			"unpatched_vulns": e.UnpatchedVulns,
		},
		e.At,
	)
}
