package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/lifecycle"
	"github.com/nerrad567/sentinel-core/internal/metrics"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultResyncAttempts = 5
	DefaultResyncBackoff  = 500 * time.Millisecond
	DefaultPendingLimit   = 4096

	maxResyncBackoff = 30 * time.Second
)

// Outcomes of applying one event, used as the metrics label.
const (
	OutcomeApplied    = "applied"
	OutcomeStale      = "stale"
	OutcomeRejected   = "rejected"
	OutcomeOutOfScope = "out_of_scope"
)

// Logger defines the logging interface used by the engine.
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

// Applied describes one event that changed the projection.
type Applied struct {
	Event  channel.Event
	Before *entity.Snapshot // nil when the entity was not in the projection
	After  *entity.Snapshot // nil for removals
}

// Handler receives every applied event, in application order.
// Stale and rejected events never reach a Handler.
type Handler interface {
	HandleApplied(a Applied)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(a Applied)

// HandleApplied calls f(a).
func (f HandlerFunc) HandleApplied(a Applied) { f(a) }

// ChangeListener mirrors store.ChangeListener so derived views can follow
// either the store or a projection.
type ChangeListener interface {
	OnChange(before, after *entity.Snapshot)
}

// Rebuilder is implemented by listeners that must be rebuilt after a
// resync replaces the projection wholesale.
type Rebuilder interface {
	Rebuild(snaps []*entity.Snapshot)
}

// Config tunes an Engine.
type Config struct {
	// Kinds limits the projection. Empty means every kind.
	Kinds []entity.Kind

	// ResyncAttempts is how many consecutive subscribe-and-fetch failures
	// are tolerated before the session fails with ErrResyncFailed.
	ResyncAttempts int

	// ResyncBackoff is the first retry delay; it doubles per attempt.
	ResyncBackoff time.Duration

	// PendingLimit caps events buffered during a resync. Overflow restarts
	// the resync.
	PendingLimit int
}

// Engine keeps one observer's Projection in step with the store.
//
// Run drives the state machine: subscribe to the Source, fetch a baseline
// while buffering incoming events, install the baseline, replay the buffer,
// then apply events as they arrive. Any stream failure starts a new cycle.
// An event is applied only if its version is above the cached version for
// its key, so duplicates and reordered deliveries are harmless.
type Engine struct {
	source  channel.Source
	fetcher Fetcher
	cfg     Config
	scope   map[entity.Kind]bool
	proj    *Projection

	stateMu       sync.RWMutex
	state         State
	onStateChange func(State)

	hooksMu    sync.RWMutex
	handlers   []Handler
	listeners  []ChangeListener
	running    atomic.Bool
	logger     Logger
	lastResync atomic.Int64
}

// New creates an engine reading from source and resyncing from fetcher.
func New(source channel.Source, fetcher Fetcher, cfg Config) *Engine {
	if cfg.ResyncAttempts <= 0 {
		cfg.ResyncAttempts = DefaultResyncAttempts
	}
	if cfg.ResyncBackoff <= 0 {
		cfg.ResyncBackoff = DefaultResyncBackoff
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = DefaultPendingLimit
	}

	var scope map[entity.Kind]bool
	if len(cfg.Kinds) > 0 {
		scope = make(map[entity.Kind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			scope[k] = true
		}
	}

	return &Engine{
		source:  source,
		fetcher: fetcher,
		cfg:     cfg,
		scope:   scope,
		proj:    NewProjection(),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// AddHandler registers h for applied events. Call before Run.
func (e *Engine) AddHandler(h Handler) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// AddListener registers l for before/after changes. A listener that also
// implements Rebuilder is rebuilt after every resync. Call before Run.
func (e *Engine) AddListener(l ChangeListener) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// OnStateChange registers fn, called on every state transition.
func (e *Engine) OnStateChange(fn func(State)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.onStateChange = fn
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Projection returns the engine's projection. It is safe to read while
// the engine runs.
func (e *Engine) Projection() *Projection {
	return e.proj
}

// LastResync returns when the last baseline was installed.
func (e *Engine) LastResync() time.Time {
	ns := e.lastResync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run drives the engine until ctx is cancelled (returning nil) or the
// session fails. On ErrResyncFailed the projection is discarded.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	defer e.setState(StateDisconnected)

	failures := 0
	for {
		e.setState(StateDisconnected)
		err := e.cycle(ctx, &failures)
		if ctx.Err() != nil {
			return nil
		}

		if failures >= e.cfg.ResyncAttempts {
			metrics.Resyncs.WithLabelValues("failed").Inc()
			e.proj.clear()
			e.rebuildListeners(nil)
			e.logger.Error("resync failed, projection discarded", "attempts", failures, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrResyncFailed, failures, err)
		}

		e.logger.Warn("event stream lost, resyncing", "error", err, "failures", failures)
		if failures > 0 {
			if err := sleep(ctx, e.backoff(failures)); err != nil {
				return nil
			}
		}
	}
}

// cycle runs one subscribe, resync and stream session. It increments
// failures for every failed resync attempt and resets it once a baseline
// is installed.
func (e *Engine) cycle(ctx context.Context, failures *int) error {
	stream, err := e.source.Subscribe(ctx)
	if err != nil {
		*failures++
		return err
	}
	defer stream.Close() //nolint:errcheck // stream is done either way

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, streamErr := pump(sessionCtx, stream)

	e.setState(StateResyncing)
	baseline, pending, err := e.resync(sessionCtx, events, streamErr, failures)
	if err != nil {
		return err
	}

	e.install(baseline)
	*failures = 0
	metrics.Resyncs.WithLabelValues("ok").Inc()
	for _, ev := range pending {
		e.apply(ev)
	}
	e.setState(StateConnected)
	e.logger.Info("projection resynced", "entities", e.proj.Len(), "replayed", len(pending))

	for {
		select {
		case ev := <-events:
			e.apply(ev)
		case err := <-streamErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resync fetches a baseline, retrying with backoff, while buffering every
// event that arrives meanwhile.
func (e *Engine) resync(ctx context.Context, events <-chan channel.Event, streamErr <-chan error, failures *int) (entity.Baseline, []channel.Event, error) {
	var pending []channel.Event
	kind := e.fetchKind()

	for {
		type result struct {
			b   entity.Baseline
			err error
		}
		done := make(chan result, 1)
		go func() {
			b, err := e.fetcher.FetchSnapshot(ctx, kind, "")
			done <- result{b, err}
		}()

	wait:
		for {
			select {
			case ev := <-events:
				if len(pending) >= e.cfg.PendingLimit {
					*failures++
					metrics.Resyncs.WithLabelValues("overflow").Inc()
					return entity.Baseline{}, nil, errPendingOverflow
				}
				pending = append(pending, ev)
			case err := <-streamErr:
				*failures++
				return entity.Baseline{}, nil, err
			case r := <-done:
				if r.err == nil {
					return r.b, pending, nil
				}
				*failures++
				if *failures >= e.cfg.ResyncAttempts {
					return entity.Baseline{}, nil, r.err
				}
				e.logger.Warn("snapshot fetch failed, retrying", "error", r.err, "failures", *failures)
				break wait
			case <-ctx.Done():
				return entity.Baseline{}, nil, ctx.Err()
			}
		}

		// Keep buffering during the backoff so the stream is not starved.
		timer := time.NewTimer(e.backoff(*failures))
	backoff:
		for {
			select {
			case ev := <-events:
				if len(pending) >= e.cfg.PendingLimit {
					timer.Stop()
					*failures++
					metrics.Resyncs.WithLabelValues("overflow").Inc()
					return entity.Baseline{}, nil, errPendingOverflow
				}
				pending = append(pending, ev)
			case err := <-streamErr:
				timer.Stop()
				*failures++
				return entity.Baseline{}, nil, err
			case <-timer.C:
				break backoff
			case <-ctx.Done():
				timer.Stop()
				return entity.Baseline{}, nil, ctx.Err()
			}
		}
	}
}

// install replaces the projection with b without emitting signals, then
// rebuilds derived listeners.
func (e *Engine) install(b entity.Baseline) {
	if e.scope != nil {
		filtered := entity.Baseline{TakenAt: b.TakenAt}
		for _, snap := range b.Entities {
			if e.scope[snap.Kind] {
				filtered.Entities = append(filtered.Entities, snap)
			}
		}
		for _, ts := range b.Tombstones {
			if e.scope[ts.Kind] {
				filtered.Tombstones = append(filtered.Tombstones, ts)
			}
		}
		b = filtered
	}
	e.proj.reset(b)
	metrics.ProjectionEntities.Set(float64(e.proj.Len()))
	e.lastResync.Store(time.Now().UnixNano())
	e.rebuildListeners(e.proj.Snapshots())
}

func (e *Engine) rebuildListeners(snaps []*entity.Snapshot) {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	for _, l := range e.listeners {
		if r, ok := l.(Rebuilder); ok {
			r.Rebuild(snaps)
		}
	}
}

// Apply applies one event to the projection and reports the outcome.
// Run calls it for every delivered event; it is exported for callers that
// feed events themselves.
func (e *Engine) Apply(ev channel.Event) string {
	return e.apply(ev)
}

func (e *Engine) apply(ev channel.Event) string {
	outcome := e.applyOutcome(ev)
	metrics.EventsApplied.WithLabelValues(outcome).Inc()
	if outcome == OutcomeApplied {
		metrics.ProjectionEntities.Set(float64(e.proj.Len()))
	}
	return outcome
}

func (e *Engine) applyOutcome(ev channel.Event) string {
	if e.scope != nil && !e.scope[ev.Kind] {
		return OutcomeOutOfScope
	}
	if err := ev.Validate(); err != nil {
		e.logger.Warn("rejecting malformed event", "key", ev.Key().String(), "error", err)
		return OutcomeRejected
	}

	key := ev.Key()
	cached := e.proj.Version(key)
	if ev.Version <= cached {
		e.logger.Debug("discarding stale event", "key", key.String(), "version", ev.Version, "cached", cached)
		return OutcomeStale
	}

	var before, after *entity.Snapshot
	switch ev.Type {
	case channel.EntityRemoved:
		before = e.proj.remove(key, ev.Version)
	default:
		next := ev.Payload.Clone()
		if prev := e.proj.Get(key.Kind, key.ID); prev != nil && ev.Version == cached+1 {
			if _, err := lifecycle.ValidateTransition(key.Kind, prev.Status(), next.Status()); err != nil {
				e.logger.Warn("rejecting event with impossible transition",
					"key", key.String(), "from", prev.Status(), "to", next.Status(), "version", ev.Version)
				return OutcomeRejected
			}
		}
		before = e.proj.put(next)
		after = next
	}

	e.notify(Applied{Event: ev, Before: before.Clone(), After: after.Clone()})
	return OutcomeApplied
}

func (e *Engine) notify(a Applied) {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	for _, l := range e.listeners {
		l.OnChange(a.Before, a.After)
	}
	for _, h := range e.handlers {
		h.HandleApplied(a)
	}
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	changed := e.state != s
	e.state = s
	fn := e.onStateChange
	e.stateMu.Unlock()

	if changed {
		e.logger.Debug("engine state", "state", s.String())
		if fn != nil {
			fn(s)
		}
	}
}

func (e *Engine) fetchKind() entity.Kind {
	if len(e.cfg.Kinds) == 1 {
		return e.cfg.Kinds[0]
	}
	return ""
}

func (e *Engine) backoff(failures int) time.Duration {
	d := e.cfg.ResyncBackoff
	for i := 1; i < failures && d < maxResyncBackoff; i++ {
		d *= 2
	}
	if d > maxResyncBackoff {
		d = maxResyncBackoff
	}
	return d
}

// pump moves events from stream onto a channel until the stream fails or
// ctx ends. The terminal error is delivered once on the error channel.
func pump(ctx context.Context, stream channel.Stream) (<-chan channel.Event, <-chan error) {
	events := make(chan channel.Event)
	errs := make(chan error, 1)
	go func() {
		for {
			ev, err := stream.Recv(ctx)
			if err != nil {
				if !errors.Is(err, channel.ErrChannelDisconnected) && ctx.Err() == nil {
					err = fmt.Errorf("%w: %w", channel.ErrChannelDisconnected, err)
				}
				errs <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return events, errs
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
