package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/lifecycle"
	"github.com/nerrad567/sentinel-core/internal/metrics"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeListener observes every accepted change synchronously.
//
// before is nil for creations and after is nil for removals. Calls for one
// entity are made while its key is locked, so they arrive in version order.
// Listeners must not modify the snapshots and must not call back into the
// Store for the same key.
type ChangeListener interface {
	OnChange(before, after *entity.Snapshot)
}

// ChangeListenerFunc adapts a function to ChangeListener.
type ChangeListenerFunc func(before, after *entity.Snapshot)

// OnChange calls f(before, after).
func (f ChangeListenerFunc) OnChange(before, after *entity.Snapshot) { f(before, after) }

// EventListener is called synchronously with every accepted change and the
// event that describes it, after change listeners and before publishers.
// The same ordering and reentrancy rules as ChangeListener apply.
type EventListener interface {
	OnEvent(before, after *entity.Snapshot, ev channel.Event)
}

// Publisher receives the event for each accepted change.
// Publication is best-effort; errors are logged and never undo the change.
type Publisher interface {
	Publish(ev channel.Event) error
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Store is the authoritative, versioned map of entity snapshots.
//
// All mutations go through Create, Apply or RemoveDevice. Work on one key is
// serialised; different keys proceed concurrently. A rejected mutation never
// changes the stored snapshot or version.
//
// Lock order is owning device first, then child. Creating a child holds its
// device's key so a cascade removal cannot miss it.
type Store struct {
	repo  Repository
	locks *keyLocks

	mu         sync.RWMutex
	entities   map[entity.Key]*entity.Snapshot
	tombstones map[entity.Key]entity.Tombstone
	children   map[string]map[entity.Key]struct{} // device ID -> alert/vulnerability keys

	hooksMu    sync.RWMutex
	listeners  []ChangeListener
	observers  []EventListener
	publishers []namedPublisher

	logger Logger
	now    func() time.Time
}

// New creates a store backed by repo. A nil repo keeps everything in memory.
func New(repo Repository) *Store {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Store{
		repo:       repo,
		locks:      newKeyLocks(),
		entities:   make(map[entity.Key]*entity.Snapshot),
		tombstones: make(map[entity.Key]entity.Tombstone),
		children:   make(map[string]map[entity.Key]struct{}),
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// AddListener registers a synchronous change listener.
func (s *Store) AddListener(l ChangeListener) {
	s.hooksMu.Lock()
	s.listeners = append(s.listeners, l)
	s.hooksMu.Unlock()
}

// AddEventListener registers a synchronous listener that also receives the
// change event.
func (s *Store) AddEventListener(l EventListener) {
	s.hooksMu.Lock()
	s.observers = append(s.observers, l)
	s.hooksMu.Unlock()
}

// AddPublisher registers an event publisher under a name used in logs.
func (s *Store) AddPublisher(name string, p Publisher) {
	s.hooksMu.Lock()
	s.publishers = append(s.publishers, namedPublisher{name: name, pub: p})
	s.hooksMu.Unlock()
}

// Load replaces the in-memory state with the repository contents.
// Call once on startup before serving requests. Listeners are not notified.
func (s *Store) Load(ctx context.Context) error {
	baseline, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[entity.Key]*entity.Snapshot, len(baseline.Entities))
	s.tombstones = make(map[entity.Key]entity.Tombstone, len(baseline.Tombstones))
	s.children = make(map[string]map[entity.Key]struct{})

	counts := make(map[entity.Kind]int)
	for _, snap := range baseline.Entities {
		s.entities[snap.Key()] = snap
		s.addChildLocked(snap)
		counts[snap.Kind]++
	}
	for _, ts := range baseline.Tombstones {
		s.tombstones[ts.Key()] = ts
	}
	for _, kind := range entity.AllKinds() {
		metrics.EntitiesTracked.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}

	s.logger.Info("entity store loaded",
		"devices", counts[entity.KindDevice],
		"alerts", counts[entity.KindAlert],
		"vulnerabilities", counts[entity.KindVulnerability],
		"tombstones", len(baseline.Tombstones),
	)
	return nil
}

// Create adds a new entity at version 1 and publishes entity_created.
//
// An empty ID is generated. Missing timestamps default to now and missing
// statuses to their initial value. Recreating a removed key continues from
// its tombstone version so observers never see a version go backwards.
func (s *Store) Create(ctx context.Context, snap *entity.Snapshot) (*entity.Snapshot, error) {
	if snap == nil {
		return nil, entity.ErrInvalidEntity
	}
	if !snap.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrInvalidKind, snap.Kind)
	}

	now := s.now().UTC()
	next := snap.Clone()
	prepareNew(next, now)
	if err := entity.ValidateSnapshot(next); err != nil {
		s.countMutation(next.Kind, err)
		return nil, err
	}

	key := next.Key()
	owner := next.OwnerID()
	if owner != "" {
		unlockOwner := s.locks.lock(deviceKey(owner))
		defer unlockOwner()
	}
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.RLock()
	_, exists := s.entities[key]
	ts, tombstoned := s.tombstones[key]
	_, ownerExists := s.entities[deviceKey(owner)]
	s.mu.RUnlock()

	if exists {
		s.countMutation(key.Kind, ErrExists)
		return nil, fmt.Errorf("%w: %s", ErrExists, key)
	}
	if owner != "" && !ownerExists {
		s.countMutation(key.Kind, ErrOwnerNotFound)
		return nil, fmt.Errorf("%w: %s", ErrOwnerNotFound, owner)
	}

	next.Version = 1
	if tombstoned {
		next.Version = ts.Version + 1
	}
	next.UpdatedAt = now

	rec := ChangeRecord{
		Kind:       key.Kind,
		ID:         key.ID,
		Version:    next.Version,
		EventType:  channel.EntityCreated,
		RecordedAt: now,
	}
	if err := s.repo.Save(ctx, next, rec); err != nil {
		s.countMutation(key.Kind, ErrPersist)
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.mu.Lock()
	s.entities[key] = next
	delete(s.tombstones, key)
	s.addChildLocked(next)
	s.mu.Unlock()

	s.countMutation(key.Kind, nil)
	s.logger.Info("entity created", "kind", key.Kind, "id", key.ID, "version", next.Version)
	s.changed(nil, next, channel.NewCreated(next))
	return next.Clone(), nil
}

// Apply validates and applies a mutation to one entity.
//
// The mutation is rejected with ErrStaleWrite when its SourceVersion is
// behind the stored version, and with lifecycle.ErrInvalidTransition when
// the status change is not allowed. A mutation that changes nothing is
// accepted as a no-op: the current snapshot is returned, the version is
// unchanged, and no event is published.
func (s *Store) Apply(ctx context.Context, kind entity.Kind, id string, m entity.Mutation) (*entity.Snapshot, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrInvalidKind, kind)
	}
	key := entity.Key{Kind: kind, ID: id}

	unlock := s.locks.lock(key)
	defer unlock()

	cur := s.lookup(key)
	if cur == nil {
		s.countMutation(kind, ErrNotFound)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if m.SourceVersion < cur.Version {
		s.countMutation(kind, ErrStaleWrite)
		return nil, fmt.Errorf("%w: %s is at version %d, mutation based on %d",
			ErrStaleWrite, key, cur.Version, m.SourceVersion)
	}
	if proposed, ok := m.ProposedStatus(kind); ok {
		if _, err := lifecycle.ValidateTransition(kind, cur.Status(), proposed); err != nil {
			s.countMutation(kind, err)
			return nil, err
		}
	}

	now := s.now().UTC()
	next, diff, err := m.ApplyTo(cur, now)
	if err != nil {
		s.countMutation(kind, err)
		return nil, err
	}
	if len(diff) == 0 {
		metrics.MutationsTotal.WithLabelValues(string(kind), "no_op").Inc()
		return cur.Clone(), nil
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = now

	rec := ChangeRecord{
		Kind:       kind,
		ID:         id,
		Version:    next.Version,
		EventType:  channel.EntityChanged,
		Changes:    diff,
		RecordedAt: now,
	}
	if err := s.repo.Save(ctx, next, rec); err != nil {
		s.countMutation(kind, ErrPersist)
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.mu.Lock()
	s.entities[key] = next
	s.mu.Unlock()

	s.countMutation(kind, nil)
	s.logger.Debug("entity changed", "kind", kind, "id", id, "version", next.Version, "fields", len(diff))
	s.changed(cur, next, channel.NewChanged(next, diff))
	return next.Clone(), nil
}

// RemoveDevice removes a device and cascades to its alerts and
// vulnerabilities. Children are removed first; each removal bumps the
// version once, leaves a tombstone and publishes entity_removed.
func (s *Store) RemoveDevice(ctx context.Context, id string) ([]entity.Tombstone, error) {
	key := deviceKey(id)
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.RLock()
	device := s.entities[key]
	childKeys := sortedKeys(s.children[id])
	s.mu.RUnlock()

	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	// New children cannot appear while the device key is held.
	for _, ck := range childKeys {
		unlockChild := s.locks.lock(ck)
		defer unlockChild()
	}

	now := s.now().UTC()
	removed := make([]*entity.Snapshot, 0, len(childKeys)+1)
	s.mu.RLock()
	for _, ck := range childKeys {
		if snap, ok := s.entities[ck]; ok {
			removed = append(removed, snap)
		}
	}
	s.mu.RUnlock()
	removed = append(removed, device)

	tombstones := make([]entity.Tombstone, len(removed))
	records := make([]ChangeRecord, len(removed))
	for i, snap := range removed {
		tombstones[i] = entity.Tombstone{Kind: snap.Kind, ID: snap.ID, Version: snap.Version + 1, RemovedAt: now}
		records[i] = ChangeRecord{
			Kind:       snap.Kind,
			ID:         snap.ID,
			Version:    snap.Version + 1,
			EventType:  channel.EntityRemoved,
			RecordedAt: now,
		}
	}

	if err := s.repo.Remove(ctx, tombstones, records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.mu.Lock()
	for _, ts := range tombstones {
		delete(s.entities, ts.Key())
		s.tombstones[ts.Key()] = ts
	}
	delete(s.children, id)
	s.mu.Unlock()

	s.logger.Info("device removed", "id", id, "cascaded", len(removed)-1)
	for i, snap := range removed {
		s.changed(snap, nil, channel.NewRemoved(tombstones[i], snap.OwnerID()))
	}
	return tombstones, nil
}

// Get returns a copy of the live snapshot for (kind, id).
func (s *Store) Get(kind entity.Kind, id string) (*entity.Snapshot, error) {
	key := entity.Key{Kind: kind, ID: id}
	snap := s.lookup(key)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return snap.Clone(), nil
}

// FetchSnapshot returns the full current state used for cold start and
// resync. With kind and id set it returns that one entity, or its
// tombstone when removed. With only kind set it returns every entity of
// that kind. With neither it returns everything. Tombstones for the
// selected scope are always included.
func (s *Store) FetchSnapshot(_ context.Context, kind entity.Kind, id string) (entity.Baseline, error) {
	if kind != "" && !kind.Valid() {
		return entity.Baseline{}, fmt.Errorf("%w: %q", entity.ErrInvalidKind, kind)
	}
	if kind == "" && id != "" {
		return entity.Baseline{}, fmt.Errorf("%w: id requires kind", entity.ErrInvalidEntity)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b := entity.Baseline{TakenAt: s.now().UTC()}

	if id != "" {
		key := entity.Key{Kind: kind, ID: id}
		if snap, ok := s.entities[key]; ok {
			b.Entities = []*entity.Snapshot{snap.Clone()}
			return b, nil
		}
		if ts, ok := s.tombstones[key]; ok {
			b.Tombstones = []entity.Tombstone{ts}
			return b, nil
		}
		return entity.Baseline{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	b.Entities = make([]*entity.Snapshot, 0, len(s.entities))
	for k, snap := range s.entities {
		if kind == "" || k.Kind == kind {
			b.Entities = append(b.Entities, snap.Clone())
		}
	}
	for k, ts := range s.tombstones {
		if kind == "" || k.Kind == kind {
			b.Tombstones = append(b.Tombstones, ts)
		}
	}
	sortSnapshots(b.Entities)
	sort.Slice(b.Tombstones, func(i, j int) bool {
		return keyLess(b.Tombstones[i].Key(), b.Tombstones[j].Key())
	})
	return b, nil
}

// Snapshots returns the live snapshots, owners first, for cold-start
// consumers such as aggregation rebuilds. The snapshots are shared and
// must not be modified.
func (s *Store) Snapshots() []*entity.Snapshot {
	s.mu.RLock()
	out := make([]*entity.Snapshot, 0, len(s.entities))
	for _, snap := range s.entities {
		out = append(out, snap)
	}
	s.mu.RUnlock()
	sortSnapshots(out)
	return out
}

// History returns the most recent recorded changes for one entity, newest first.
func (s *Store) History(ctx context.Context, kind entity.Kind, id string, limit int) ([]ChangeRecord, error) {
	return s.repo.History(ctx, entity.Key{Kind: kind, ID: id}, limit)
}

// Stats reports the number of live entities and tombstones by kind.
type Stats struct {
	Entities   map[entity.Kind]int `json:"entities"`
	Tombstones int                 `json:"tombstones"`
}

// GetStats returns current store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Entities: make(map[entity.Kind]int), Tombstones: len(s.tombstones)}
	for k := range s.entities {
		st.Entities[k.Kind]++
	}
	return st
}

func (s *Store) lookup(key entity.Key) *entity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[key]
}

func (s *Store) addChildLocked(snap *entity.Snapshot) {
	owner := snap.OwnerID()
	if owner == "" {
		return
	}
	set, ok := s.children[owner]
	if !ok {
		set = make(map[entity.Key]struct{})
		s.children[owner] = set
	}
	set[snap.Key()] = struct{}{}
}

// changed runs listeners, event listeners, then publishers. Called with the key held.
func (s *Store) changed(before, after *entity.Snapshot, ev channel.Event) {
	s.hooksMu.RLock()
	listeners := s.listeners
	observers := s.observers
	publishers := s.publishers
	s.hooksMu.RUnlock()

	for _, l := range listeners {
		l.OnChange(before, after)
	}
	for _, o := range observers {
		o.OnEvent(before, after, ev)
	}

	switch {
	case before == nil:
		metrics.EntitiesTracked.WithLabelValues(string(ev.Kind)).Inc()
	case after == nil:
		metrics.EntitiesTracked.WithLabelValues(string(ev.Kind)).Dec()
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind), string(ev.Type)).Inc()

	for _, p := range publishers {
		if err := p.pub.Publish(ev); err != nil {
			metrics.PublishErrors.WithLabelValues(p.name).Inc()
			s.logger.Warn("event publication failed",
				"publisher", p.name,
				"kind", ev.Kind,
				"id", ev.ID,
				"version", ev.Version,
				"error", err,
			)
		}
	}
}

func (s *Store) countMutation(kind entity.Kind, err error) {
	result := "accepted"
	if err != nil {
		result = string(entity.ReasonOf(err))
	}
	metrics.MutationsTotal.WithLabelValues(string(kind), result).Inc()
}

// prepareNew fills generated and defaulted fields of a snapshot about to
// be created.
func prepareNew(s *entity.Snapshot, now time.Time) {
	id := s.ID
	if id == "" {
		id = payloadID(s)
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.ID = id

	switch {
	case s.Device != nil:
		d := s.Device
		d.ID = id
		if d.Status == "" {
			d.Status = entity.DeviceUnknown
		}
		if d.FirstSeen.IsZero() {
			d.FirstSeen = now
		}
		if d.LastSeen.IsZero() {
			d.LastSeen = d.FirstSeen
		}
	case s.Alert != nil:
		a := s.Alert
		a.ID = id
		if a.Status == "" {
			a.Status = entity.AlertOpen
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.Status.Terminal() && a.ResolvedAt == nil {
			resolved := now
			a.ResolvedAt = &resolved
		}
	case s.Vulnerability != nil:
		v := s.Vulnerability
		v.ID = id
		if v.PatchStatus == "" {
			v.PatchStatus = entity.PatchUnpatched
		}
		if v.DiscoveredAt.IsZero() {
			v.DiscoveredAt = now
		}
	}
}

func payloadID(s *entity.Snapshot) string {
	switch {
	case s.Device != nil:
		return s.Device.ID
	case s.Alert != nil:
		return s.Alert.ID
	case s.Vulnerability != nil:
		return s.Vulnerability.ID
	}
	return ""
}

func deviceKey(id string) entity.Key {
	return entity.Key{Kind: entity.KindDevice, ID: id}
}

var kindOrder = map[entity.Kind]int{
	entity.KindDevice:        0,
	entity.KindAlert:         1,
	entity.KindVulnerability: 2,
}

func keyLess(a, b entity.Key) bool {
	if a.Kind != b.Kind {
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	}
	return a.ID < b.ID
}

func sortedKeys(set map[entity.Key]struct{}) []entity.Key {
	keys := make([]entity.Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func sortSnapshots(snaps []*entity.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return keyLess(snaps[i].Key(), snaps[j].Key()) })
}
