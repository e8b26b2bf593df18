package lifecycle

import (
	"errors"
	"testing"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// expectedEdges is written out independently of the validator tables.
var expectedEdges = map[entity.Kind]map[[2]string]bool{
	entity.KindDevice: {
		{"online", "offline"}:  true,
		{"online", "unknown"}:  true,
		{"offline", "online"}:  true,
		{"offline", "unknown"}: true,
		{"unknown", "online"}:  true,
		{"unknown", "offline"}: true,
	},
	entity.KindAlert: {
		{"open", "investigating"}:           true,
		{"open", "resolved"}:                true,
		{"open", "false_positive"}:          true,
		{"investigating", "resolved"}:       true,
		{"investigating", "false_positive"}: true,
	},
	entity.KindVulnerability: {
		{"unpatched", "in_progress"}: true,
		{"unpatched", "patched"}:     true,
		{"unpatched", "mitigated"}:   true,
		{"in_progress", "patched"}:   true,
		{"in_progress", "mitigated"}: true,
	},
}

func TestValidateTransition_Soundness(t *testing.T) {
	for _, kind := range entity.AllKinds() {
		statuses := Statuses(kind)
		for _, from := range statuses {
			for _, to := range statuses {
				decision, err := ValidateTransition(kind, from, to)
				switch {
				case from == to:
					if err != nil || decision != NoOp {
						t.Errorf("%s %s->%s: got (%v, %v), want no-op", kind, from, to, decision, err)
					}
				case expectedEdges[kind][[2]string{from, to}]:
					if err != nil || decision != Change {
						t.Errorf("%s %s->%s: got (%v, %v), want change", kind, from, to, decision, err)
					}
				default:
					if !errors.Is(err, ErrInvalidTransition) {
						t.Errorf("%s %s->%s: got (%v, %v), want ErrInvalidTransition", kind, from, to, decision, err)
					}
					if entity.ReasonOf(err) != entity.ReasonInvalidTransition {
						t.Errorf("%s %s->%s: reason = %q", kind, from, to, entity.ReasonOf(err))
					}
				}
			}
		}
	}
}

func TestValidateAlert_TerminalClosure(t *testing.T) {
	for _, closed := range []entity.AlertStatus{entity.AlertResolved, entity.AlertFalsePositive} {
		for _, next := range entity.AllAlertStatuses() {
			if next == closed {
				continue
			}
			if _, err := ValidateAlert(closed, next); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: error = %v, want ErrInvalidTransition", closed, next, err)
			}
		}
		if !IsTerminal(entity.KindAlert, string(closed)) {
			t.Errorf("IsTerminal(%s) = false", closed)
		}
	}
}

func TestValidateDevice_Flapping(t *testing.T) {
	seq := []entity.DeviceStatus{
		entity.DeviceUnknown, entity.DeviceOnline, entity.DeviceOffline,
		entity.DeviceOnline, entity.DeviceUnknown, entity.DeviceOffline,
	}
	for i := 1; i < len(seq); i++ {
		if d, err := ValidateDevice(seq[i-1], seq[i]); err != nil || d != Change {
			t.Errorf("%s -> %s: (%v, %v)", seq[i-1], seq[i], d, err)
		}
	}
	for _, s := range entity.AllDeviceStatuses() {
		if IsTerminal(entity.KindDevice, string(s)) {
			t.Errorf("device status %s must not be terminal", s)
		}
	}
}

func TestValidateVulnerability_TerminalStates(t *testing.T) {
	tests := []struct {
		from, to entity.PatchStatus
		wantErr  bool
	}{
		{entity.PatchUnpatched, entity.PatchInProgress, false},
		{entity.PatchInProgress, entity.PatchMitigated, false},
		{entity.PatchInProgress, entity.PatchUnpatched, true},
		{entity.PatchPatched, entity.PatchUnpatched, true},
		{entity.PatchMitigated, entity.PatchPatched, true},
	}
	for _, tt := range tests {
		_, err := ValidateVulnerability(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s -> %s: error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestValidateTransition_UnknownInputs(t *testing.T) {
	if _, err := ValidateTransition("router", "on", "off"); !errors.Is(err, entity.ErrInvalidKind) {
		t.Errorf("unknown kind error = %v", err)
	}
	if _, err := ValidateTransition(entity.KindAlert, "snoozed", "open"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown current status error = %v", err)
	}
	if _, err := ValidateTransition(entity.KindAlert, "open", "snoozed"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown proposed status error = %v", err)
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed(entity.KindAlert, "open", "resolved") {
		t.Error("open -> resolved should be allowed")
	}
	if Allowed(entity.KindAlert, "open", "open") {
		t.Error("self-transition is not an edge")
	}
	if Decision(0).String() != "unknown" || NoOp.String() != "no_op" {
		t.Error("unexpected Decision strings")
	}
}
