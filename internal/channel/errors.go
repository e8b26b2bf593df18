package channel

import (
	"errors"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Channel errors.
var (
	// ErrChannelDisconnected is returned by Stream.Recv when the transport
	// is lost. The observer must resync before trusting its projection.
	ErrChannelDisconnected = entity.NewError(entity.ReasonChannelDisconnected, "channel: disconnected")

	// ErrSlowConsumer closes a subscription whose buffer overflowed.
	// Events were dropped, so the observer must resync.
	ErrSlowConsumer = entity.NewError(entity.ReasonChannelDisconnected, "channel: subscriber too slow")

	// ErrBrokerClosed is returned when subscribing to a closed broker.
	ErrBrokerClosed = entity.NewError(entity.ReasonChannelDisconnected, "channel: broker closed")

	// ErrMalformedEvent is returned when a wire event fails to decode or validate.
	ErrMalformedEvent = errors.New("channel: malformed event")
)
