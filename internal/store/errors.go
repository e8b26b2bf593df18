package store

import "github.com/nerrad567/sentinel-core/internal/entity"

// Domain errors for the store package.
//
// Each carries a reason code; use entity.ReasonOf to recover it:
//
//	if errors.Is(err, store.ErrStaleWrite) {
//	    // refetch the entity and retry with its version
//	}
var (
	// ErrNotFound is returned when no live entity has the given key.
	ErrNotFound = entity.NewError(entity.ReasonNotFound, "store: not found")

	// ErrExists is returned when creating an entity whose key is live.
	ErrExists = entity.NewError(entity.ReasonAlreadyExists, "store: already exists")

	// ErrOwnerNotFound is returned when an alert or vulnerability
	// references a device that does not exist.
	ErrOwnerNotFound = entity.NewError(entity.ReasonNotFound, "store: owning device not found")

	// ErrStaleWrite is returned when a mutation's source version is
	// behind the stored version.
	ErrStaleWrite = entity.NewError(entity.ReasonStaleWrite, "store: stale write")

	// ErrPersist is returned when write-through to the repository fails.
	// The in-memory state is left untouched.
	ErrPersist = entity.NewError(entity.ReasonInternal, "store: persisting change")
)
