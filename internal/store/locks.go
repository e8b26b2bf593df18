package store

import (
	"sync"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// keyLocks serialises work per entity key. Entries are reference counted
// and removed once no goroutine holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[entity.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[entity.Key]*keyLock)}
}

// lock acquires the lock for key and returns its release function.
func (l *keyLocks) lock(key entity.Key) func() {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live lock entries.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
