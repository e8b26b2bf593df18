package channel

import "context"

// Source opens event streams for an observer.
//
// Each call to Subscribe starts a fresh stream. Events that were published
// while no stream was open are not replayed.
type Source interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream delivers events to one observer.
//
// Recv blocks until an event arrives, the context is cancelled, or the
// transport fails. Transport failures wrap ErrChannelDisconnected.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}
