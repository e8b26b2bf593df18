package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sentinel-core/internal/metrics"
)

// eventQoS is the QoS for entity events. Redelivered duplicates are
// discarded by observers through the version check.
const eventQoS byte = 1

const defaultConnectionPoll = time.Second

// MQTTClient is the subset of *mqtt.Client used by the channel package.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// MQTTBridge forwards broker events to sentinel/events/{kind}/{id}.
//
// The bridge holds its own broker subscription so a slow or disconnected
// MQTT link never stalls the store. If the subscription is dropped the
// bridge logs the gap and subscribes again.
type MQTTBridge struct {
	broker *Broker
	client MQTTClient
	logger Logger
}

// NewMQTTBridge creates a bridge from broker to client.
func NewMQTTBridge(broker *Broker, client MQTTClient) *MQTTBridge {
	return &MQTTBridge{broker: broker, client: client, logger: noopLogger{}}
}

// SetLogger sets the logger for the bridge.
func (b *MQTTBridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Run forwards events until ctx is cancelled or the broker closes.
func (b *MQTTBridge) Run(ctx context.Context) error {
	for {
		sub, err := b.broker.Subscribe()
		if err != nil {
			return err
		}
		err = b.forward(ctx, sub)
		sub.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrBrokerClosed):
			return nil
		default:
			b.logger.Warn("mqtt bridge lost its broker subscription, events were skipped", "error", err)
		}
	}
}

func (b *MQTTBridge) forward(ctx context.Context, sub *Subscription) error {
	topics := mqtt.Topics{}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		payload, err := Encode(ev)
		if err != nil {
			b.logger.Error("encoding event for mqtt", "key", ev.Key().String(), "error", err)
			continue
		}
		if err := b.client.Publish(topics.Event(string(ev.Kind), ev.ID), payload, eventQoS, false); err != nil {
			metrics.PublishErrors.WithLabelValues("mqtt").Inc()
			b.logger.Warn("publishing event to mqtt", "key", ev.Key().String(), "error", err)
		}
	}
}

// MQTTSource streams events from sentinel/events/... for a remote observer.
//
// Only one MQTTSource stream per client and kind set may be open at a time,
// since the client tracks subscriptions by topic.
type MQTTSource struct {
	Client MQTTClient

	// Kinds limits the subscription. Empty means every kind.
	Kinds []entity.Kind

	Buffer int

	// PollInterval is how often the connection state is checked.
	PollInterval time.Duration

	Logger Logger
}

// Subscribe subscribes to the event topics. A lost broker connection ends
// the stream with ErrChannelDisconnected.
func (s *MQTTSource) Subscribe(ctx context.Context) (Stream, error) {
	if !s.Client.IsConnected() {
		return nil, fmt.Errorf("%w: %w", ErrChannelDisconnected, mqtt.ErrNotConnected)
	}
	logger := s.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	topics := s.topics()
	stream := newPushStream(s.Buffer, func() {
		for _, t := range topics {
			//nolint:errcheck // tracking is dropped even when the broker is gone
			s.Client.Unsubscribe(t)
		}
	})

	handler := func(topic string, payload []byte) error {
		ev, err := Decode(payload)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		if kind, id, ok := mqtt.ParseEventTopic(topic); !ok || kind != string(ev.Kind) || id != ev.ID {
			return fmt.Errorf("%w: topic %s does not match event %s", ErrMalformedEvent, topic, ev.Key())
		}
		stream.push(ev)
		return nil
	}

	for i, t := range topics {
		if err := s.Client.Subscribe(t, eventQoS, handler); err != nil {
			for _, done := range topics[:i] {
				s.Client.Unsubscribe(done) //nolint:errcheck // rolling back
			}
			return nil, fmt.Errorf("%w: subscribing %s: %w", ErrChannelDisconnected, t, err)
		}
	}

	go s.watch(ctx, stream, logger)
	return stream, nil
}

func (s *MQTTSource) topics() []string {
	t := mqtt.Topics{}
	if len(s.Kinds) == 0 {
		return []string{t.AllEvents()}
	}
	out := make([]string, 0, len(s.Kinds))
	for _, k := range s.Kinds {
		out = append(out, t.AllEventsOfKind(string(k)))
	}
	return out
}

// watch fails the stream when the broker connection drops. Messages lost
// while disconnected cannot be recovered, so the observer must resync.
func (s *MQTTSource) watch(ctx context.Context, stream *pushStream, logger Logger) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultConnectionPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.done:
			return
		case <-ctx.Done():
			stream.fail(ctx.Err())
			return
		case <-ticker.C:
			if !s.Client.IsConnected() {
				logger.Warn("mqtt connection lost, ending event stream")
				stream.fail(mqtt.ErrNotConnected)
				return
			}
		}
	}
}
