package aggregate

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/lifecycle"
)

// DefaultWindow is the trailing window used when NewView is given zero.
const DefaultWindow = 24 * time.Hour

// Counts are the per-device counters.
type Counts struct {
	// OpenAlerts counts alerts not resolved and not false positives.
	OpenAlerts int `json:"open_alerts"`

	// Unpatched counts vulnerabilities whose patch status is not patched.
	// Mitigated vulnerabilities are still counted.
	Unpatched int `json:"unpatched_vulnerabilities"`
}

func (c Counts) zero() bool { return c.OpenAlerts == 0 && c.Unpatched == 0 }

// Histograms summarise alerts created within the trailing window.
type Histograms struct {
	Window     time.Duration              `json:"window"`
	Total      int                        `json:"total"`
	BySeverity map[entity.Severity]int    `json:"by_severity"`
	ByStatus   map[entity.AlertStatus]int `json:"by_status"`
}

// Exposure is a per-device report row.
type Exposure struct {
	DeviceID  string  `json:"device_id"`
	RiskScore float64 `json:"risk_score"`
	Counts
}

// Summary is the dashboard view.
type Summary struct {
	Devices         int                         `json:"devices"`
	DevicesByStatus map[entity.DeviceStatus]int `json:"devices_by_status"`
	OpenAlerts      int                         `json:"open_alerts"`
	Unpatched       int                         `json:"unpatched_vulnerabilities"`
	Alerts          Histograms                  `json:"alerts"`
}

type deviceInfo struct {
	status entity.DeviceStatus
	risk   float64
}

type windowedAlert struct {
	severity  entity.Severity
	status    entity.AlertStatus
	createdAt time.Time
}

// View maintains aggregation counters incrementally from entity changes.
//
// OnChange subtracts the before snapshot's contribution and adds the
// after snapshot's, so each change costs O(1) regardless of how many
// entities exist. Rebuild rescans from scratch and is only used at cold
// start and after an observer resync.
//
// Alerts leave the histograms once their creation time falls outside the
// window. Expiry is lazy and happens on every read and write.
type View struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time

	devices   map[string]deviceInfo
	byDevice  map[string]Counts
	byStatus  map[entity.DeviceStatus]int
	windowed  map[string]windowedAlert
	expiry    alertHeap
	heaped    map[string]time.Time // creation time of each alert's live heap entry
	bySev     map[entity.Severity]int
	byAlertSt map[entity.AlertStatus]int
}

// NewView creates an empty view with the given histogram window.
func NewView(window time.Duration) *View {
	if window <= 0 {
		window = DefaultWindow
	}
	v := &View{window: window, now: time.Now}
	v.resetLocked()
	return v
}

func (v *View) resetLocked() {
	v.devices = make(map[string]deviceInfo)
	v.byDevice = make(map[string]Counts)
	v.byStatus = make(map[entity.DeviceStatus]int)
	v.windowed = make(map[string]windowedAlert)
	v.expiry = nil
	v.heaped = make(map[string]time.Time)
	v.bySev = make(map[entity.Severity]int)
	v.byAlertSt = make(map[entity.AlertStatus]int)
}

// OnChange applies one change. before is nil for creations and after is
// nil for removals.
func (v *View) OnChange(before, after *entity.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pruneLocked()
	if before != nil {
		v.applyLocked(before, -1)
	}
	if after != nil {
		v.applyLocked(after, +1)
	}
}

// Rebuild replaces all counters with a full rescan of snaps.
func (v *View) Rebuild(snaps []*entity.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.resetLocked()
	for _, s := range snaps {
		v.applyLocked(s, +1)
	}
	v.pruneLocked()
}

func (v *View) applyLocked(s *entity.Snapshot, sign int) {
	switch {
	case s.Device != nil:
		d := s.Device
		v.byStatus[d.Status] += sign
		if v.byStatus[d.Status] == 0 {
			delete(v.byStatus, d.Status)
		}
		if sign > 0 {
			v.devices[d.ID] = deviceInfo{status: d.Status, risk: d.RiskScore}
		} else {
			delete(v.devices, d.ID)
		}
		v.tidyLocked(d.ID)

	case s.Alert != nil:
		a := s.Alert
		if !lifecycle.IsTerminal(entity.KindAlert, string(a.Status)) {
			v.adjustLocked(a.DeviceID, Counts{OpenAlerts: sign})
		}
		v.windowLocked(a, sign)

	case s.Vulnerability != nil:
		if s.Vulnerability.PatchStatus != entity.PatchPatched {
			v.adjustLocked(s.Vulnerability.DeviceID, Counts{Unpatched: sign})
		}
	}
}

func (v *View) adjustLocked(deviceID string, delta Counts) {
	c := v.byDevice[deviceID]
	c.OpenAlerts += delta.OpenAlerts
	c.Unpatched += delta.Unpatched
	v.byDevice[deviceID] = c
	v.tidyLocked(deviceID)
}

// tidyLocked forgets a device's counters once it is gone and nothing
// refers to it any more.
func (v *View) tidyLocked(deviceID string) {
	if _, live := v.devices[deviceID]; live {
		return
	}
	if v.byDevice[deviceID].zero() {
		delete(v.byDevice, deviceID)
	}
}

func (v *View) windowLocked(a *entity.Alert, sign int) {
	if sign < 0 {
		if w, ok := v.windowed[a.ID]; ok {
			v.dropWindowedLocked(a.ID, w)
		}
		return
	}
	if !v.inWindow(a.CreatedAt) {
		return
	}
	v.windowed[a.ID] = windowedAlert{severity: a.Severity, status: a.Status, createdAt: a.CreatedAt}
	if at, ok := v.heaped[a.ID]; !ok || !at.Equal(a.CreatedAt) {
		heap.Push(&v.expiry, expiryEntry{id: a.ID, createdAt: a.CreatedAt})
		v.heaped[a.ID] = a.CreatedAt
	}
	v.bySev[a.Severity]++
	v.byAlertSt[a.Status]++
}

func (v *View) dropWindowedLocked(id string, w windowedAlert) {
	delete(v.windowed, id)
	v.bySev[w.severity]--
	if v.bySev[w.severity] == 0 {
		delete(v.bySev, w.severity)
	}
	v.byAlertSt[w.status]--
	if v.byAlertSt[w.status] == 0 {
		delete(v.byAlertSt, w.status)
	}
}

func (v *View) inWindow(createdAt time.Time) bool {
	return createdAt.After(v.now().Add(-v.window))
}

// pruneLocked expires alerts that have left the window. Heap entries for
// alerts already removed, or re-added with a different creation time,
// are skipped.
func (v *View) pruneLocked() {
	for v.expiry.Len() > 0 {
		head := v.expiry[0]
		if v.inWindow(head.createdAt) {
			return
		}
		heap.Pop(&v.expiry)
		if at, ok := v.heaped[head.id]; ok && at.Equal(head.createdAt) {
			delete(v.heaped, head.id)
		}
		if w, ok := v.windowed[head.id]; ok && w.createdAt.Equal(head.createdAt) {
			v.dropWindowedLocked(head.id, w)
		}
	}
}

// DeviceCounts returns the counters for one device.
func (v *View) DeviceCounts(deviceID string) Counts {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.byDevice[deviceID]
}

// AllDeviceCounts returns the counters of every device with a non-zero
// counter or a live device record.
func (v *View) AllDeviceCounts() map[string]Counts {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string]Counts, len(v.devices))
	for id := range v.devices {
		out[id] = v.byDevice[id]
	}
	for id, c := range v.byDevice {
		out[id] = c
	}
	return out
}

// Histograms returns the alert histograms for the trailing window.
func (v *View) Histograms() Histograms {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked()
	return v.histogramsLocked()
}

func (v *View) histogramsLocked() Histograms {
	h := Histograms{
		Window:     v.window,
		Total:      len(v.windowed),
		BySeverity: make(map[entity.Severity]int, len(v.bySev)),
		ByStatus:   make(map[entity.AlertStatus]int, len(v.byAlertSt)),
	}
	for k, n := range v.bySev {
		h.BySeverity[k] = n
	}
	for k, n := range v.byAlertSt {
		h.ByStatus[k] = n
	}
	return h
}

// Summary returns the dashboard summary.
func (v *View) Summary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked()

	s := Summary{
		Devices:         len(v.devices),
		DevicesByStatus: make(map[entity.DeviceStatus]int, len(v.byStatus)),
		Alerts:          v.histogramsLocked(),
	}
	for k, n := range v.byStatus {
		s.DevicesByStatus[k] = n
	}
	for _, c := range v.byDevice {
		s.OpenAlerts += c.OpenAlerts
		s.Unpatched += c.Unpatched
	}
	return s
}

// Exposures returns one row per live device, ordered by id.
func (v *View) Exposures() []Exposure {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Exposure, 0, len(v.devices))
	for id, d := range v.devices {
		out = append(out, Exposure{DeviceID: id, RiskScore: d.risk, Counts: v.byDevice[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

type expiryEntry struct {
	id        string
	createdAt time.Time
}

// alertHeap is a min-heap of alerts by creation time.
type alertHeap []expiryEntry

func (h alertHeap) Len() int           { return len(h) }
func (h alertHeap) Less(i, j int) bool { return h[i].createdAt.Before(h[j].createdAt) }
func (h alertHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *alertHeap) Push(x any)        { *h = append(*h, x.(expiryEntry)) }
func (h *alertHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
