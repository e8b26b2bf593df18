package reconcile

import (
	"sort"
	"sync"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Projection is an observer's local copy of the store, keyed by (kind, id).
//
// It remembers the version of every entity it has seen, removed ones
// included, so that late events for removed entities stay stale.
type Projection struct {
	mu       sync.RWMutex
	entities map[entity.Key]*entity.Snapshot
	versions map[entity.Key]int64
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{
		entities: make(map[entity.Key]*entity.Snapshot),
		versions: make(map[entity.Key]int64),
	}
}

// Get returns a copy of the entity, or nil if it is not present.
func (p *Projection) Get(kind entity.Kind, id string) *entity.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entities[entity.Key{Kind: kind, ID: id}].Clone()
}

// Version returns the last version seen for key, or 0.
func (p *Projection) Version(key entity.Key) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.versions[key]
}

// Len returns the number of live entities.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entities)
}

// Snapshots returns copies of every live entity, devices first, then by id.
func (p *Projection) Snapshots() []*entity.Snapshot {
	p.mu.RLock()
	out := make([]*entity.Snapshot, 0, len(p.entities))
	for _, snap := range p.entities {
		out = append(out, snap.Clone())
	}
	p.mu.RUnlock()

	order := make(map[entity.Kind]int)
	for i, k := range entity.AllKinds() {
		order[k] = i
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return order[out[i].Kind] < order[out[j].Kind]
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// put stores snap and returns the previous snapshot for its key.
func (p *Projection) put(snap *entity.Snapshot) *entity.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := snap.Key()
	before := p.entities[key]
	p.entities[key] = snap
	p.versions[key] = snap.Version
	return before
}

// remove drops key, recording version, and returns what was removed.
func (p *Projection) remove(key entity.Key, version int64) *entity.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := p.entities[key]
	delete(p.entities, key)
	p.versions[key] = version
	return before
}

// reset replaces the whole projection with a baseline.
func (p *Projection) reset(b entity.Baseline) {
	entities := make(map[entity.Key]*entity.Snapshot, len(b.Entities))
	versions := make(map[entity.Key]int64, len(b.Entities)+len(b.Tombstones))
	for _, ts := range b.Tombstones {
		versions[ts.Key()] = ts.Version
	}
	for _, snap := range b.Entities {
		entities[snap.Key()] = snap.Clone()
		versions[snap.Key()] = snap.Version
	}

	p.mu.Lock()
	p.entities = entities
	p.versions = versions
	p.mu.Unlock()
}

// clear discards everything.
func (p *Projection) clear() {
	p.reset(entity.Baseline{})
}
