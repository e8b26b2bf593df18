package aggregate

import (
	"context"
	"time"

	"github.com/nerrad567/sentinel-core/internal/infrastructure/influxdb"
)

// ExposureWriter is the subset of *influxdb.Client used by Report.
type ExposureWriter interface {
	WriteExposure(e influxdb.Exposure)
}

// Report writes one exposure point per live device to w.
// It returns the number of points written.
func (v *View) Report(w ExposureWriter, at time.Time) int {
	rows := v.Exposures()
	for _, r := range rows {
		w.WriteExposure(influxdb.Exposure{
			DeviceID:       r.DeviceID,
			RiskScore:      r.RiskScore,
			OpenAlerts:     r.OpenAlerts,
			UnpatchedVulns: r.Unpatched,
			At:             at,
		})
	}
	return len(rows)
}

// RunReports calls Report every interval until ctx is cancelled.
func (v *View) RunReports(ctx context.Context, w ExposureWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			v.Report(w, t.UTC())
		}
	}
}
