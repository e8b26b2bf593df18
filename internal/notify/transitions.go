package notify

import (
	"github.com/nerrad567/sentinel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

// TransitionWriter is the subset of *influxdb.Client used by TransitionRecorder.
type TransitionWriter interface {
	WriteTransition(t influxdb.Transition)
}

// TransitionRecorder writes one time-series point per applied status
// change. Creations are recorded with an empty From; removals and changes
// that leave the status alone are skipped.
type TransitionRecorder struct {
	Writer TransitionWriter
}

// HandleApplied implements reconcile.Handler.
func (r TransitionRecorder) HandleApplied(a reconcile.Applied) {
	if a.After == nil {
		return
	}
	var from string
	if a.Before != nil {
		from = a.Before.Status()
	}
	to := a.After.Status()
	if from == to {
		return
	}
	r.Writer.WriteTransition(influxdb.Transition{
		Kind:    string(a.After.Kind),
		ID:      a.After.ID,
		OwnerID: a.After.OwnerID(),
		From:    from,
		To:      to,
		Version: a.After.Version,
		At:      a.Event.Timestamp,
	})
}
