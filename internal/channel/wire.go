package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// WebSocket message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgEvent       = "event"
	MsgResponse    = "response"
	MsgError       = "error"
)

// channelPrefix prefixes every per-kind WebSocket channel name.
const channelPrefix = "entity."

// Message is the envelope for every WebSocket frame in either direction.
//
// Event frames carry an encoded Event in Payload and the channel it was
// published on. Responses echo the ID of the request they answer.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload lists channels for subscribe and unsubscribe requests.
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChannelName returns the WebSocket channel for events of kind.
func ChannelName(kind entity.Kind) string {
	return channelPrefix + string(kind)
}

// KindOfChannel parses a channel name back to its kind.
func KindOfChannel(name string) (entity.Kind, bool) {
	rest, ok := strings.CutPrefix(name, channelPrefix)
	if !ok {
		return "", false
	}
	kind := entity.Kind(rest)
	return kind, kind.Valid()
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(msgType, id string, payload any) (Message, error) {
	msg := Message{Type: msgType, ID: id, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// EventMessage wraps ev for delivery on its kind's channel.
func EventMessage(ev Event) (Message, error) {
	data, err := Encode(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      MsgEvent,
		Channel:   ChannelName(ev.Kind),
		Timestamp: ev.Timestamp,
		Payload:   data,
	}, nil
}
