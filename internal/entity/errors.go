package entity

import "errors"

// Reason is a stable, machine-readable rejection or failure code.
// Reason codes are part of the wire and HTTP contract.
type Reason string

// Reason codes.
const (
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonStaleWrite          Reason = "stale_write"
	ReasonChannelDisconnected Reason = "channel_disconnected"
	ReasonResyncFailed        Reason = "resync_failed"
	ReasonNotFound            Reason = "not_found"
	ReasonAlreadyExists       Reason = "already_exists"
	ReasonInvalidEntity       Reason = "invalid_entity"
	ReasonInternal            Reason = "internal_error"
)

// Error is a sentinel error tagged with a Reason code.
//
// Packages declare their sentinels with NewError and callers compare them
// with errors.Is as usual:
//
//	if errors.Is(err, store.ErrStaleWrite) {
//	    // refetch and retry
//	}
type Error struct {
	code Reason
	msg  string
}

// NewError creates a reason-tagged sentinel error.
func NewError(code Reason, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Reason returns the error's reason code.
func (e *Error) Reason() Reason { return e.code }

// ReasonOf extracts the reason code from err.
// Returns ReasonInternal when err carries no reason.
func ReasonOf(err error) Reason {
	var re *Error
	if errors.As(err, &re) {
		return re.code
	}
	return ReasonInternal
}

// Domain errors for the entity package.
var (
	// ErrInvalidKind is returned for an unrecognised entity kind.
	ErrInvalidKind = NewError(ReasonInvalidEntity, "entity: invalid kind")

	// ErrInvalidEntity is returned when a snapshot fails validation.
	ErrInvalidEntity = NewError(ReasonInvalidEntity, "entity: invalid")

	// ErrOutOfRange is returned when a score falls outside its allowed range.
	ErrOutOfRange = NewError(ReasonInvalidEntity, "entity: value out of range")

	// ErrPatchMismatch is returned when a mutation carries a patch for a
	// different kind than the entity it targets.
	ErrPatchMismatch = NewError(ReasonInvalidEntity, "entity: patch does not match kind")
)
