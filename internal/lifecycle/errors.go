package lifecycle

import "github.com/nerrad567/sentinel-core/internal/entity"

// ErrInvalidTransition is returned when a status change is not in the
// entity kind's transition graph.
var ErrInvalidTransition = entity.NewError(entity.ReasonInvalidTransition, "lifecycle: invalid transition")
