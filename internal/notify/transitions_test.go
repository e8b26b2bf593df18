package notify

import (
	"testing"
	"time"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

type transitionRecorder []influxdb.Transition

func (r *transitionRecorder) WriteTransition(t influxdb.Transition) { *r = append(*r, t) }

func TestTransitionRecorder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		before *entity.Snapshot
		after  *entity.Snapshot
		want   []influxdb.Transition
	}{
		{
			name:  "creation",
			after: vulnSnap(1, entity.PatchUnpatched),
			want: []influxdb.Transition{{
				Kind: "vulnerability", ID: "vuln-1", OwnerID: "dev-1", To: "unpatched", Version: 1, At: at,
			}},
		},
		{
			name:   "status change",
			before: alertSnap(1, entity.AlertOpen, entity.SeverityHigh),
			after:  alertSnap(2, entity.AlertInvestigating, entity.SeverityHigh),
			want: []influxdb.Transition{{
				Kind: "alert", ID: "alert-a", OwnerID: "dev-1", From: "open", To: "investigating", Version: 2, At: at,
			}},
		},
		{
			name:   "field change without status change",
			before: deviceSnap(1, entity.DeviceOnline),
			after:  deviceSnap(2, entity.DeviceOnline),
		},
		{
			name:   "removal",
			before: deviceSnap(2, entity.DeviceOnline),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got transitionRecorder
			TransitionRecorder{Writer: &got}.HandleApplied(reconcile.Applied{
				Event:  channel.Event{Timestamp: at},
				Before: tt.before,
				After:  tt.after,
			})
			if len(got) != len(tt.want) {
				t.Fatalf("transitions = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("transition = %+v, want %+v", got[i], tt.want[i])
				}
			}
		})
	}
}
