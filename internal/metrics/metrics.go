// Package metrics holds the Prometheus collectors shared by Sentinel Core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MutationsTotal counts propose_mutation outcomes by kind and result
	// (accepted, no_op, or a rejection reason code).
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "mutations_total",
			Help:      "Total number of entity mutations by outcome",
		},
		[]string{"kind", "result"},
	)

	// EventsPublished counts events handed to the channel.
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_published_total",
			Help:      "Total number of lifecycle events published",
		},
		[]string{"kind", "event_type"},
	)

	// PublishErrors counts events a publisher failed to accept.
	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "publish_errors_total",
			Help:      "Total number of failed event publications",
		},
		[]string{"publisher"},
	)

	// SubscribersDropped counts subscribers closed for falling behind.
	SubscribersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "subscribers_dropped_total",
			Help:      "Total number of slow subscribers disconnected",
		},
	)

	// ObserversConnected tracks live WebSocket observers.
	ObserversConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "observers_connected",
			Help:      "Number of connected WebSocket observers",
		},
	)

	// EventsApplied counts observer-side event handling by outcome
	// (applied, stale, rejected, out_of_scope).
	EventsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "reconcile_events_total",
			Help:      "Total number of events seen by reconciliation engines",
		},
		[]string{"outcome"},
	)

	// Resyncs counts resync attempts by outcome.
	Resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "resyncs_total",
			Help:      "Total number of observer resyncs",
		},
		[]string{"outcome"},
	)

	// SignalsDispatched counts notification signals by level.
	SignalsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "signals_dispatched_total",
			Help:      "Total number of notification signals dispatched",
		},
		[]string{"level"},
	)

	// SignalsDropped counts signals lost to a full queue or a failing sink.
	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "signals_dropped_total",
			Help:      "Total number of notification signals dropped",
		},
		[]string{"reason"},
	)

	// EntitiesTracked is the number of live entities in the store by kind.
	EntitiesTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "entities",
			Help:      "Number of live entities by kind",
		},
		[]string{"kind"},
	)

	// ProjectionEntities is the number of entities held by the most recently
	// updated observer projection.
	ProjectionEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "projection_entities",
			Help:      "Number of entities in the observer projection",
		},
	)

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)

	once sync.Once
)

// Init registers all collectors with the default Prometheus registry.
// Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(MutationsTotal)     //nolint:errcheck // registered once
		prometheus.DefaultRegisterer.Register(EventsPublished)    //nolint:errcheck
		prometheus.DefaultRegisterer.Register(PublishErrors)      //nolint:errcheck
		prometheus.DefaultRegisterer.Register(SubscribersDropped) //nolint:errcheck
		prometheus.DefaultRegisterer.Register(ObserversConnected) //nolint:errcheck
		prometheus.DefaultRegisterer.Register(EventsApplied)      //nolint:errcheck
		prometheus.DefaultRegisterer.Register(Resyncs)            //nolint:errcheck
		prometheus.DefaultRegisterer.Register(SignalsDispatched)  //nolint:errcheck
		prometheus.DefaultRegisterer.Register(SignalsDropped)     //nolint:errcheck
		prometheus.DefaultRegisterer.Register(EntitiesTracked)    //nolint:errcheck
		prometheus.DefaultRegisterer.Register(ProjectionEntities) //nolint:errcheck
		prometheus.DefaultRegisterer.Register(HTTPRequests)       //nolint:errcheck
	})
}
