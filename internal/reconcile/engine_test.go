package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/store"
)

func ptr[T any](v T) *T { return &v }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// recorder collects applied events.
type recorder struct {
	mu      sync.Mutex
	applied []Applied
}

func (r *recorder) HandleApplied(a Applied) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, a)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

// rebuildCounter is a ChangeListener that also rebuilds.
type rebuildCounter struct {
	changes  atomic.Int64
	rebuilds atomic.Int64
	lastSize atomic.Int64
}

func (c *rebuildCounter) OnChange(_, _ *entity.Snapshot) { c.changes.Add(1) }

func (c *rebuildCounter) Rebuild(snaps []*entity.Snapshot) {
	c.rebuilds.Add(1)
	c.lastSize.Store(int64(len(snaps)))
}

// fakeSource hands out streams the test can feed and break.
type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

type fakeStream struct {
	events chan channel.Event
	fail   chan error
	closed atomic.Bool
}

func (s *fakeSource) Subscribe(_ context.Context) (channel.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	st := &fakeStream{events: make(chan channel.Event, 16), fail: make(chan error, 1)}
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *fakeSource) latest() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[len(s.streams)-1]
}

func (st *fakeStream) Recv(ctx context.Context) (channel.Event, error) {
	select {
	case ev := <-st.events:
		return ev, nil
	case err := <-st.fail:
		return channel.Event{}, err
	case <-ctx.Done():
		return channel.Event{}, ctx.Err()
	}
}

func (st *fakeStream) Close() error {
	st.closed.Store(true)
	return nil
}

// staticFetcher returns a fixed baseline, or err.
type staticFetcher struct {
	mu    sync.Mutex
	b     entity.Baseline
	err   error
	calls int
}

func (f *staticFetcher) FetchSnapshot(_ context.Context, _ entity.Kind, _ string) (entity.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.b, f.err
}

func (f *staticFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alertSnap(version int64, status entity.AlertStatus) *entity.Snapshot {
	a := entity.Alert{
		ID:       "alert-a",
		DeviceID: "dev-1",
		Title:    "Telnet exposed",
		Severity: entity.SeverityHigh,
		Status:   status,
	}
	if status.Terminal() {
		a.ResolvedAt = ptr(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	}
	s := entity.NewAlertSnapshot(a)
	s.Version = version
	return s
}

func changed(s *entity.Snapshot) channel.Event {
	if s.Version == 1 {
		return channel.NewCreated(s)
	}
	return channel.NewChanged(s, nil)
}

func TestEngine_ApplyVersionRules(t *testing.T) {
	e := New(&fakeSource{}, &staticFetcher{}, Config{})
	rec := &recorder{}
	e.AddHandler(rec)

	steps := []struct {
		name string
		ev   channel.Event
		want string
	}{
		{"created", changed(alertSnap(1, entity.AlertOpen)), OutcomeApplied},
		{"investigating", changed(alertSnap(2, entity.AlertInvestigating)), OutcomeApplied},
		{"resolved", changed(alertSnap(3, entity.AlertResolved)), OutcomeApplied},
		{"duplicate v3", changed(alertSnap(3, entity.AlertResolved)), OutcomeStale},
		{"late v2", changed(alertSnap(2, entity.AlertInvestigating)), OutcomeStale},
	}
	for _, st := range steps {
		if got := e.Apply(st.ev); got != st.want {
			t.Errorf("%s: Apply() = %s, want %s", st.name, got, st.want)
		}
	}

	if rec.count() != 3 {
		t.Errorf("handler calls = %d, want 3", rec.count())
	}
	got := e.Projection().Get(entity.KindAlert, "alert-a")
	if got == nil || got.Version != 3 || got.Alert.Status != entity.AlertResolved {
		t.Errorf("projection = %+v", got)
	}
}

func TestEngine_ApplyRejectsImpossibleTransition(t *testing.T) {
	e := New(&fakeSource{}, &staticFetcher{}, Config{})
	rec := &recorder{}
	e.AddHandler(rec)

	e.Apply(changed(alertSnap(1, entity.AlertOpen)))
	e.Apply(changed(alertSnap(2, entity.AlertResolved)))

	if got := e.Apply(changed(alertSnap(3, entity.AlertOpen))); got != OutcomeRejected {
		t.Errorf("Apply(resolved -> open) = %s, want rejected", got)
	}
	if rec.count() != 2 {
		t.Errorf("handler calls = %d, want 2", rec.count())
	}
	if v := e.Projection().Version(entity.Key{Kind: entity.KindAlert, ID: "alert-a"}); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestEngine_ApplyRemovalAndLateEvent(t *testing.T) {
	e := New(&fakeSource{}, &staticFetcher{}, Config{})
	rec := &recorder{}
	e.AddHandler(rec)

	e.Apply(changed(alertSnap(1, entity.AlertOpen)))
	removed := channel.NewRemoved(entity.Tombstone{Kind: entity.KindAlert, ID: "alert-a", Version: 2}, "dev-1")
	if got := e.Apply(removed); got != OutcomeApplied {
		t.Fatalf("Apply(removed) = %s", got)
	}
	if e.Projection().Get(entity.KindAlert, "alert-a") != nil {
		t.Error("alert still present after removal")
	}

	if got := e.Apply(changed(alertSnap(2, entity.AlertInvestigating))); got != OutcomeStale {
		t.Errorf("late change after removal = %s, want stale", got)
	}

	rec.mu.Lock()
	last := rec.applied[len(rec.applied)-1]
	rec.mu.Unlock()
	if last.Before == nil || last.After != nil || last.Event.Type != channel.EntityRemoved {
		t.Errorf("removal applied = %+v", last)
	}
}

func TestEngine_ApplyOutOfScope(t *testing.T) {
	e := New(&fakeSource{}, &staticFetcher{}, Config{Kinds: []entity.Kind{entity.KindDevice}})

	if got := e.Apply(changed(alertSnap(1, entity.AlertOpen))); got != OutcomeOutOfScope {
		t.Errorf("Apply(alert) = %s, want out_of_scope", got)
	}
	if got := e.Apply(changed(deviceSnap("dev-1", 1, entity.DeviceOnline))); got != OutcomeApplied {
		t.Errorf("Apply(device) = %s, want applied", got)
	}
}

func TestEngine_RunInstallsBaselineWithoutSignals(t *testing.T) {
	src := &fakeSource{}
	fetcher := &staticFetcher{b: entity.Baseline{Entities: []*entity.Snapshot{
		deviceSnap("dev-1", 3, entity.DeviceOnline),
		alertSnap(5, entity.AlertInvestigating),
	}}}
	e := New(src, fetcher, Config{ResyncBackoff: time.Millisecond})
	rec := &recorder{}
	views := &rebuildCounter{}
	e.AddHandler(rec)
	e.AddListener(views)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return e.State() == StateConnected })
	if e.Projection().Len() != 2 {
		t.Errorf("Len() = %d, want 2", e.Projection().Len())
	}
	if rec.count() != 0 {
		t.Errorf("baseline produced %d handler calls", rec.count())
	}
	if views.rebuilds.Load() != 1 || views.lastSize.Load() != 2 {
		t.Errorf("rebuilds = %d size = %d", views.rebuilds.Load(), views.lastSize.Load())
	}
	if e.LastResync().IsZero() {
		t.Error("LastResync() is zero")
	}

	// Duplicate of the state already installed.
	src.latest().events <- changed(alertSnap(5, entity.AlertInvestigating))
	src.latest().events <- changed(alertSnap(6, entity.AlertResolved))
	waitFor(t, func() bool { return rec.count() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if e.State() != StateDisconnected {
		t.Errorf("State() = %s after Run", e.State())
	}
}

func TestEngine_RunResyncsAfterStreamLoss(t *testing.T) {
	src := &fakeSource{}
	fetcher := &staticFetcher{b: entity.Baseline{Entities: []*entity.Snapshot{
		deviceSnap("dev-1", 1, entity.DeviceOnline),
	}}}
	e := New(src, fetcher, Config{ResyncBackoff: time.Millisecond})

	var states []State
	var stMu sync.Mutex
	e.OnStateChange(func(s State) {
		stMu.Lock()
		states = append(states, s)
		stMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return e.State() == StateConnected })
	first := src.latest()

	fetcher.mu.Lock()
	fetcher.b = entity.Baseline{Entities: []*entity.Snapshot{deviceSnap("dev-1", 4, entity.DeviceOffline)}}
	fetcher.mu.Unlock()
	first.fail <- channel.ErrChannelDisconnected

	waitFor(t, func() bool { return src.count() == 2 && e.State() == StateConnected })
	if !first.closed.Load() {
		t.Error("failed stream was not closed")
	}
	if fetcher.callCount() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.callCount())
	}
	got := e.Projection().Get(entity.KindDevice, "dev-1")
	if got == nil || got.Version != 4 {
		t.Errorf("projection after resync = %+v", got)
	}

	cancel()
	<-done
	stMu.Lock()
	defer stMu.Unlock()
	want := []State{StateResyncing, StateConnected, StateDisconnected, StateResyncing, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestEngine_RunFailsAfterResyncAttempts(t *testing.T) {
	fetcher := &staticFetcher{err: errors.New("core unreachable")}
	e := New(&fakeSource{}, fetcher, Config{ResyncAttempts: 3, ResyncBackoff: time.Millisecond})
	e.proj.put(deviceSnap("dev-1", 1, entity.DeviceOnline))

	err := e.Run(context.Background())
	if !errors.Is(err, ErrResyncFailed) {
		t.Fatalf("Run() = %v, want ErrResyncFailed", err)
	}
	if entity.ReasonOf(err) != entity.ReasonResyncFailed {
		t.Errorf("ReasonOf() = %s", entity.ReasonOf(err))
	}
	if fetcher.callCount() != 3 {
		t.Errorf("fetches = %d, want 3", fetcher.callCount())
	}
	if e.Projection().Len() != 0 {
		t.Errorf("projection kept %d entities after resync failure", e.Projection().Len())
	}
}

func TestEngine_RunFailsWhenSubscribeKeepsFailing(t *testing.T) {
	src := &fakeSource{err: channel.ErrChannelDisconnected}
	e := New(src, &staticFetcher{}, Config{ResyncAttempts: 2, ResyncBackoff: time.Millisecond})

	err := e.Run(context.Background())
	if !errors.Is(err, ErrResyncFailed) || !errors.Is(err, channel.ErrChannelDisconnected) {
		t.Errorf("Run() = %v", err)
	}
}

func TestEngine_RunRejectsSecondRun(t *testing.T) {
	e := New(&fakeSource{}, &staticFetcher{}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitFor(t, func() bool { return e.State() == StateConnected })

	if err := e.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v", err)
	}
	cancel()
	<-done
}

// blockingFetcher reads the store when called, then waits for release.
type blockingFetcher struct {
	s       *store.Store
	called  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) FetchSnapshot(ctx context.Context, kind entity.Kind, id string) (entity.Baseline, error) {
	b, err := f.s.FetchSnapshot(ctx, kind, id)
	f.once.Do(func() {
		close(f.called)
		<-f.release
	})
	return b, err
}

func TestEngine_ConvergesWithStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.New(nil)
	broker := channel.NewBroker(64)
	s.AddPublisher("broker", broker)

	mustCreate := func(snap *entity.Snapshot) {
		t.Helper()
		if _, err := s.Create(ctx, snap); err != nil {
			t.Fatalf("Create(%s) = %v", snap.Key(), err)
		}
	}
	mustCreate(deviceSnap("dev-1", 1, entity.DeviceOnline))
	mustCreate(alertSnap(1, entity.AlertOpen))

	fetcher := &blockingFetcher{s: s, called: make(chan struct{}), release: make(chan struct{})}
	e := New(channel.BrokerSource{Broker: broker}, fetcher, Config{ResyncBackoff: time.Millisecond})
	rec := &recorder{}
	e.AddHandler(rec)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Mutations made after the baseline was read are buffered and replayed.
	<-fetcher.called
	if e.State() != StateResyncing {
		t.Errorf("State() = %s while fetching", e.State())
	}
	if _, err := s.Apply(ctx, entity.KindAlert, "alert-a", entity.Mutation{
		SourceVersion: 1,
		Alert:         &entity.AlertPatch{Status: ptr(entity.AlertInvestigating)},
	}); err != nil {
		t.Fatal(err)
	}
	mustCreate(entity.NewVulnerabilitySnapshot(entity.Vulnerability{
		ID: "vuln-1", DeviceID: "dev-1", CVEID: "CVE-2024-3400", CVSSScore: 10, Severity: entity.SeverityCritical,
	}))
	close(fetcher.release)

	waitFor(t, func() bool { return e.State() == StateConnected && rec.count() == 2 })

	if _, err := s.RemoveDevice(ctx, "dev-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return e.Projection().Len() == 0 })

	mustCreate(deviceSnap("dev-2", 1, entity.DeviceOnline))
	waitFor(t, func() bool { return e.Projection().Len() == 1 })

	want := s.Snapshots()
	got := e.Projection().Snapshots()
	if len(got) != len(want) {
		t.Fatalf("projection has %d entities, store has %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i].Key() || got[i].Version != want[i].Version {
			t.Errorf("entity %d: projection %s v%d, store %s v%d",
				i, got[i].Key(), got[i].Version, want[i].Key(), want[i].Version)
		}
	}
	if v := e.Projection().Version(entity.Key{Kind: entity.KindAlert, ID: "alert-a"}); v != 3 {
		t.Errorf("removed alert version = %d, want 3", v)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	baseline := entity.Baseline{
		Entities:   []*entity.Snapshot{deviceSnap("dev-1", 2, entity.DeviceOnline)},
		Tombstones: []entity.Tombstone{{Kind: entity.KindAlert, ID: "a-9", Version: 4}},
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/snapshot" || r.URL.Query().Get("kind") != "device" {
					http.Error(w, "bad request "+r.URL.String(), http.StatusBadRequest)
					return
				}
				json.NewEncoder(w).Encode(baseline) //nolint:errcheck // test server
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			},
			wantErr: "store unavailable",
		},
		{
			name: "invalid snapshot",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"entities":[{"kind":"device","id":"x","version":1}]}`)) //nolint:errcheck // test server
			},
			wantErr: "invalid",
		},
		{
			name: "null entity",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"entities":[null]}`)) //nolint:errcheck // test server
			},
			wantErr: "null",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := &HTTPFetcher{BaseURL: srv.URL + "/"}
			got, err := f.FetchSnapshot(context.Background(), entity.KindDevice, "")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("FetchSnapshot() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchSnapshot() error = %v", err)
			}
			if len(got.Entities) != 1 || got.Entities[0].Version != 2 || len(got.Tombstones) != 1 {
				t.Errorf("FetchSnapshot() = %+v", got)
			}
		})
	}
}
