package channel

import (
	"context"
	"fmt"
	"sync"
)

// pushStream is a Stream fed by a transport goroutine.
//
// The transport calls push for each decoded event and fail when the
// connection ends. A full buffer ends the stream with ErrSlowConsumer.
type pushStream struct {
	events chan Event
	done   chan struct{}

	once    sync.Once
	err     error
	onClose func()
}

func newPushStream(buffer int, onClose func()) *pushStream {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &pushStream{
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// push queues ev without blocking. It reports false once the stream has ended.
func (s *pushStream) push(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.fail(ErrSlowConsumer)
		return false
	}
}

// fail ends the stream with cause. Only the first call has any effect.
func (s *pushStream) fail(cause error) {
	s.once.Do(func() {
		s.err = cause
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Recv returns queued events first, then the terminal error.
func (s *pushStream) Recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		// Drain anything that raced in before the stream ended.
		select {
		case ev := <-s.events:
			return ev, nil
		default:
		}
		return Event{}, s.terminalErr()
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *pushStream) terminalErr() error {
	if s.err == nil {
		return ErrChannelDisconnected
	}
	return fmt.Errorf("%w: %w", ErrChannelDisconnected, s.err)
}

// Close ends the stream and releases the transport.
func (s *pushStream) Close() error {
	s.fail(nil)
	return nil
}
