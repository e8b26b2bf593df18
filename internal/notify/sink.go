package notify

import (
	"context"

	"github.com/nerrad567/sentinel-core/internal/infrastructure/mqtt"
)

// Sink delivers signals somewhere. Deliver must honour ctx.
type Sink interface {
	Deliver(ctx context.Context, sig Signal) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, sig Signal) error

// Deliver calls f(ctx, sig).
func (f FuncSink) Deliver(ctx context.Context, sig Signal) error { return f(ctx, sig) }

// LogSink writes each signal to a logger. High and critical signals are
// logged as warnings.
type LogSink struct {
	Logger Logger
}

// Deliver logs sig.
func (s LogSink) Deliver(_ context.Context, sig Signal) error {
	args := []any{
		"level", sig.Level,
		"kind", sig.Kind,
		"id", sig.EntityID,
		"version", sig.Version,
	}
	if sig.DeviceID != "" {
		args = append(args, "device_id", sig.DeviceID)
	}
	switch sig.Level {
	case LevelHigh, LevelCritical:
		s.Logger.Warn(sig.Message, args...)
	default:
		s.Logger.Info(sig.Message, args...)
	}
	return nil
}

// JSONPublisher is the subset of *mqtt.Client used by MQTTSink.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTSink publishes signals to sentinel/signals/{level}.
type MQTTSink struct {
	Client JSONPublisher
}

// Deliver publishes sig.
func (s MQTTSink) Deliver(_ context.Context, sig Signal) error {
	return s.Client.PublishJSON(mqtt.Topics{}.Signal(string(sig.Level)), sig)
}
