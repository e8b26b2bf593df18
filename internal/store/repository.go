package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChangeRecord is one entry of an entity's change history.
type ChangeRecord struct {
	Kind       entity.Kind          `json:"kind"`
	ID         string               `json:"id"`
	Version    int64                `json:"version"`
	EventType  channel.EventType    `json:"event_type"`
	Changes    []entity.FieldChange `json:"changes,omitempty"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// Repository is the system-of-record persistence behind the Store.
//
// Save and Remove must be atomic: either the entity rows, tombstones and
// history records are all written, or none are.
type Repository interface {
	// LoadAll returns every live entity and tombstone.
	LoadAll(ctx context.Context) (entity.Baseline, error)

	// Save inserts or replaces one snapshot and appends its history record.
	// Saving a key clears any tombstone it had.
	Save(ctx context.Context, snap *entity.Snapshot, rec ChangeRecord) error

	// Remove deletes the entities named by tombstones, stores the
	// tombstones and appends the history records.
	Remove(ctx context.Context, tombstones []entity.Tombstone, recs []ChangeRecord) error

	// History returns up to limit records for key, newest first.
	History(ctx context.Context, key entity.Key, limit int) ([]ChangeRecord, error)
}

// clampHistoryLimit applies the default and maximum history page sizes.
func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// MemoryRepository is a volatile Repository used when no database is
// configured, and in tests.
type MemoryRepository struct {
	mu         sync.Mutex
	entities   map[entity.Key]*entity.Snapshot
	tombstones map[entity.Key]entity.Tombstone
	history    map[entity.Key][]ChangeRecord
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities:   make(map[entity.Key]*entity.Snapshot),
		tombstones: make(map[entity.Key]entity.Tombstone),
		history:    make(map[entity.Key][]ChangeRecord),
	}
}

// LoadAll returns copies of every stored entity and tombstone.
func (r *MemoryRepository) LoadAll(_ context.Context) (entity.Baseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := entity.Baseline{TakenAt: time.Now().UTC()}
	for _, snap := range r.entities {
		b.Entities = append(b.Entities, snap.Clone())
	}
	for _, ts := range r.tombstones {
		b.Tombstones = append(b.Tombstones, ts)
	}
	sortSnapshots(b.Entities)
	return b, nil
}

// Save stores a copy of snap and appends rec.
func (r *MemoryRepository) Save(_ context.Context, snap *entity.Snapshot, rec ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := snap.Key()
	r.entities[key] = snap.Clone()
	delete(r.tombstones, key)
	r.history[key] = append(r.history[key], rec)
	return nil
}

// Remove deletes entities and records their tombstones.
func (r *MemoryRepository) Remove(_ context.Context, tombstones []entity.Tombstone, recs []ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ts := range tombstones {
		delete(r.entities, ts.Key())
		r.tombstones[ts.Key()] = ts
	}
	for _, rec := range recs {
		key := entity.Key{Kind: rec.Kind, ID: rec.ID}
		r.history[key] = append(r.history[key], rec)
	}
	return nil
}

// History returns up to limit records for key, newest first.
func (r *MemoryRepository) History(_ context.Context, key entity.Key, limit int) ([]ChangeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.history[key]
	out := make([]ChangeRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })

	if limit = clampHistoryLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
