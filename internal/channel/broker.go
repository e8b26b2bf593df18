package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/sentinel-core/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length used when none is given.
const DefaultBufferSize = 256

// Logger defines the logging interface used by channel components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker fans events out to in-process subscribers.
//
// Publish never blocks. A subscriber whose queue is full is dropped: its
// subscription is closed with ErrSlowConsumer and it must resync. This keeps
// one slow observer from back-pressuring the store.
type Broker struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
	logger     Logger
}

// NewBroker creates a broker whose subscribers buffer up to bufferSize events.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscription is one subscriber's view of the broker.
type Subscription struct {
	id     uint64
	broker *Broker
	events chan Event
	done   chan struct{}

	once sync.Once
	err  error
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		broker: b,
		events: make(chan Event, b.bufferSize),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Publish delivers ev to every subscriber without blocking.
// It always returns nil; the error return satisfies store.Publisher.
func (b *Broker) Publish(ev Event) error {
	b.mu.RLock()
	var slow []*Subscription
	for _, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.logger.Warn("dropping slow subscriber", "subscriber", sub.id, "buffer", b.bufferSize)
		sub.close(ErrSlowConsumer)
		metrics.SubscribersDropped.Inc()
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the broker and every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrBrokerClosed)
	}
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Events returns the subscriber's event queue. The queue is never closed;
// select on Done as well.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		s.broker.remove(s.id)
	})
}

// Recv waits for the next event. It implements Stream.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	select {
	case <-s.done:
		if s.err == nil {
			return Event{}, ErrChannelDisconnected
		}
		return Event{}, fmt.Errorf("%w: %w", ErrChannelDisconnected, s.err)
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		if s.err == nil {
			return Event{}, ErrChannelDisconnected
		}
		return Event{}, fmt.Errorf("%w: %w", ErrChannelDisconnected, s.err)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// BrokerSource adapts a Broker to the Source interface for in-process
// observers.
type BrokerSource struct {
	Broker *Broker
}

// Subscribe opens a new broker subscription.
func (bs BrokerSource) Subscribe(_ context.Context) (Stream, error) {
	sub, err := bs.Broker.Subscribe()
	if err != nil {
		return nil, err
	}
	return subscriptionStream{sub}, nil
}

type subscriptionStream struct {
	*Subscription
}

func (s subscriptionStream) Close() error {
	s.Subscription.Close()
	return nil
}
