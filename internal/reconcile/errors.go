package reconcile

import (
	"errors"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

var (
	// ErrResyncFailed ends an observer session after every resync attempt
	// failed. The projection has been discarded.
	ErrResyncFailed = entity.NewError(entity.ReasonResyncFailed, "reconcile: resync failed")

	// ErrAlreadyRunning is returned when Run is called on a running engine.
	ErrAlreadyRunning = errors.New("reconcile: engine already running")

	errPendingOverflow = errors.New("reconcile: too many events buffered during resync")
)
