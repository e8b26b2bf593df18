package lifecycle

import (
	"fmt"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Decision is the outcome of an accepted transition check.
type Decision int

const (
	// Change means the status moves to a different value.
	Change Decision = iota + 1

	// NoOp means the proposed status equals the current one.
	NoOp
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	switch d {
	case Change:
		return "change"
	case NoOp:
		return "no_op"
	}
	return "unknown"
}

// transitionSet maps a current status to its allowed next statuses.
type transitionSet map[string]map[string]struct{}

func newTransitionSet(edges map[string][]string) transitionSet {
	ts := make(transitionSet, len(edges))
	for from, tos := range edges {
		ts[from] = make(map[string]struct{}, len(tos))
		for _, to := range tos {
			ts[from][to] = struct{}{}
		}
	}
	return ts
}

var (
	deviceTransitions = newTransitionSet(map[string][]string{
		string(entity.DeviceOnline):  {string(entity.DeviceOffline), string(entity.DeviceUnknown)},
		string(entity.DeviceOffline): {string(entity.DeviceOnline), string(entity.DeviceUnknown)},
		string(entity.DeviceUnknown): {string(entity.DeviceOnline), string(entity.DeviceOffline)},
	})

	alertTransitions = newTransitionSet(map[string][]string{
		string(entity.AlertOpen): {
			string(entity.AlertInvestigating),
			string(entity.AlertResolved),
			string(entity.AlertFalsePositive),
		},
		string(entity.AlertInvestigating): {
			string(entity.AlertResolved),
			string(entity.AlertFalsePositive),
		},
		string(entity.AlertResolved):      {},
		string(entity.AlertFalsePositive): {},
	})

	vulnerabilityTransitions = newTransitionSet(map[string][]string{
		string(entity.PatchUnpatched): {
			string(entity.PatchInProgress),
			string(entity.PatchPatched),
			string(entity.PatchMitigated),
		},
		string(entity.PatchInProgress): {
			string(entity.PatchPatched),
			string(entity.PatchMitigated),
		},
		string(entity.PatchPatched):   {},
		string(entity.PatchMitigated): {},
	})
)

func transitionsFor(kind entity.Kind) (transitionSet, error) {
	switch kind {
	case entity.KindDevice:
		return deviceTransitions, nil
	case entity.KindAlert:
		return alertTransitions, nil
	case entity.KindVulnerability:
		return vulnerabilityTransitions, nil
	}
	return nil, fmt.Errorf("%w: %q", entity.ErrInvalidKind, kind)
}

// ValidateTransition checks whether an entity of the given kind may move
// from current to proposed status.
//
// Returns NoOp when proposed == current, Change when the edge exists, and
// ErrInvalidTransition otherwise (including unknown statuses).
func ValidateTransition(kind entity.Kind, current, proposed string) (Decision, error) {
	ts, err := transitionsFor(kind)
	if err != nil {
		return 0, err
	}

	nexts, known := ts[current]
	if !known {
		return 0, fmt.Errorf("%w: unknown %s status %q", ErrInvalidTransition, kind, current)
	}
	if proposed == current {
		return NoOp, nil
	}
	if _, ok := nexts[proposed]; !ok {
		return 0, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, current, proposed)
	}
	return Change, nil
}

// ValidateDevice checks a device status transition.
func ValidateDevice(current, proposed entity.DeviceStatus) (Decision, error) {
	return ValidateTransition(entity.KindDevice, string(current), string(proposed))
}

// ValidateAlert checks an alert status transition.
func ValidateAlert(current, proposed entity.AlertStatus) (Decision, error) {
	return ValidateTransition(entity.KindAlert, string(current), string(proposed))
}

// ValidateVulnerability checks a vulnerability patch status transition.
func ValidateVulnerability(current, proposed entity.PatchStatus) (Decision, error) {
	return ValidateTransition(entity.KindVulnerability, string(current), string(proposed))
}

// IsTerminal reports whether status has no outgoing transitions.
// Device statuses are never terminal.
func IsTerminal(kind entity.Kind, status string) bool {
	ts, err := transitionsFor(kind)
	if err != nil {
		return false
	}
	nexts, ok := ts[status]
	return ok && len(nexts) == 0
}

// Statuses returns every status defined for kind.
func Statuses(kind entity.Kind) []string {
	var out []string
	switch kind {
	case entity.KindDevice:
		for _, s := range entity.AllDeviceStatuses() {
			out = append(out, string(s))
		}
	case entity.KindAlert:
		for _, s := range entity.AllAlertStatuses() {
			out = append(out, string(s))
		}
	case entity.KindVulnerability:
		for _, s := range entity.AllPatchStatuses() {
			out = append(out, string(s))
		}
	}
	return out
}

// Allowed reports whether from -> to is an explicitly listed edge.
// Self-transitions are not edges.
func Allowed(kind entity.Kind, from, to string) bool {
	ts, err := transitionsFor(kind)
	if err != nil {
		return false
	}
	_, ok := ts[from][to]
	return ok
}
