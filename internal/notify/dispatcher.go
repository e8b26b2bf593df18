package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/sentinel-core/internal/metrics"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

const (
	// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
	DefaultQueueSize = 1024

	defaultDeliverTimeout = 5 * time.Second
	recentSignals         = 200
)

// ErrDispatcherClosed is returned by Run after Close.
var ErrDispatcherClosed = errors.New("notify: dispatcher closed")

// Logger defines the logging interface used by the dispatcher.
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

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher turns applied changes into signals and hands them to sinks.
//
// HandleApplied never blocks: signals are queued and delivered by Run on
// its own goroutine. A full queue or a failing sink drops the signal and
// counts it; the change that produced it is unaffected.
type Dispatcher struct {
	queue   chan Signal
	timeout time.Duration

	mu     sync.RWMutex
	sinks  []namedSink
	recent []Signal
	next   int
	filled bool

	closeOnce sync.Once
	closed    chan struct{}
	logger    Logger
}

// NewDispatcher creates a dispatcher with a queue of queueSize signals.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan Signal, queueSize),
		timeout: defaultDeliverTimeout,
		recent:  make([]Signal, recentSignals),
		closed:  make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// AddSink registers a sink. Sinks are called in registration order.
func (d *Dispatcher) AddSink(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// HandleApplied implements reconcile.Handler.
func (d *Dispatcher) HandleApplied(a reconcile.Applied) {
	d.Enqueue(Classify(a))
}

// Enqueue queues sig for delivery and reports whether it was accepted.
func (d *Dispatcher) Enqueue(sig Signal) bool {
	select {
	case <-d.closed:
		metrics.SignalsDropped.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case d.queue <- sig:
		return true
	default:
		metrics.SignalsDropped.WithLabelValues("queue_full").Inc()
		d.logger.Warn("signal queue full, dropping signal",
			"level", sig.Level, "kind", sig.Kind, "id", sig.EntityID, "version", sig.Version)
		return false
	}
}

// Run delivers queued signals until ctx is cancelled or Close is called.
// Signals still queued at that point are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case sig := <-d.queue:
			d.deliver(ctx, sig)
		case <-ctx.Done():
			d.drain(context.Background())
			return nil
		case <-d.closed:
			d.drain(ctx)
			return ErrDispatcherClosed
		}
	}
}

// Close stops Run. Later signals are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

// Pending returns the number of queued signals.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Recent returns up to limit of the most recently delivered signals,
// newest first.
func (d *Dispatcher) Recent(limit int) []Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size := d.next
	if d.filled {
		size = len(d.recent)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Signal, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (d.next - i + len(d.recent)) % len(d.recent)
		out = append(out, d.recent[idx])
	}
	return out
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case sig := <-d.queue:
			d.deliver(ctx, sig)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sig Signal) {
	d.mu.Lock()
	d.recent[d.next] = sig
	d.next = (d.next + 1) % len(d.recent)
	if d.next == 0 {
		d.filled = true
	}
	sinks := d.sinks
	d.mu.Unlock()

	metrics.SignalsDispatched.WithLabelValues(string(sig.Level)).Inc()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.call(sctx, s, sig)
		cancel()
		if err != nil {
			metrics.SignalsDropped.WithLabelValues("sink_" + s.name).Inc()
			d.logger.Warn("signal sink failed",
				"sink", s.name, "level", sig.Level, "kind", sig.Kind, "id", sig.EntityID, "error", err)
		}
	}
}

// call runs one sink, turning a panic into an error so one bad sink
// cannot stop delivery.
func (d *Dispatcher) call(ctx context.Context, s namedSink, sig Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("signal sink panicked", "sink", s.name, "panic", r)
			err = errSinkPanicked
		}
	}()
	return s.sink.Deliver(ctx, sig)
}

var errSinkPanicked = errors.New("notify: sink panicked")
