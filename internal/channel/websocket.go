package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	subscribeRequestID      = "sub-1"
)

// WebSocketSource streams events from a remote Sentinel core over its /ws
// endpoint.
type WebSocketSource struct {
	// URL is the WebSocket endpoint, e.g. ws://core:8080/ws.
	URL string

	// Kinds limits the subscription. Empty means every kind.
	Kinds []entity.Kind

	// Header is sent with the upgrade request.
	Header http.Header

	// Buffer is the stream's event queue length.
	Buffer int

	// HandshakeTimeout bounds dial plus subscribe acknowledgement.
	HandshakeTimeout time.Duration

	// ReadTimeout closes the stream if nothing, pings included, arrives
	// for this long. Zero disables it.
	ReadTimeout time.Duration

	Logger Logger
}

// Subscribe dials the endpoint, subscribes to the configured channels and
// waits for the server to acknowledge before returning. Events published
// after the acknowledgement are guaranteed to be delivered or the stream
// fails.
func (s *WebSocketSource) Subscribe(ctx context.Context) (Stream, error) {
	timeout := s.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(dialCtx, s.URL, s.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // upgrade response body is empty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrChannelDisconnected, s.URL, err)
	}

	if err := s.handshake(conn, time.Now().Add(timeout)); err != nil {
		conn.Close() //nolint:errcheck // already failing
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	stream := newPushStream(s.Buffer, func() {
		//nolint:errcheck // best-effort close frame
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close() //nolint:errcheck // reader goroutine observes the error
	})
	go s.readLoop(conn, stream, logger)
	return stream, nil
}

func (s *WebSocketSource) channels() []string {
	kinds := s.Kinds
	if len(kinds) == 0 {
		kinds = entity.AllKinds()
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, ChannelName(k))
	}
	return names
}

// handshake sends the subscribe request and waits for its response.
func (s *WebSocketSource) handshake(conn *websocket.Conn, deadline time.Time) error {
	req, err := NewMessage(MsgSubscribe, subscribeRequestID, SubscribePayload{Channels: s.channels()})
	if err != nil {
		return err
	}
	//nolint:errcheck // write error surfaces below
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: sending subscribe: %w", ErrChannelDisconnected, err)
	}

	//nolint:errcheck // read error surfaces below
	conn.SetReadDeadline(deadline)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: awaiting subscribe ack: %w", ErrChannelDisconnected, err)
		}
		if msg.ID != subscribeRequestID {
			continue
		}
		if msg.Type == MsgError {
			var ep ErrorPayload
			_ = json.Unmarshal(msg.Payload, &ep) //nolint:errcheck // message is optional
			return fmt.Errorf("%w: subscribe rejected: %s", ErrChannelDisconnected, ep.Message)
		}
		//nolint:errcheck // cleared deadline
		conn.SetReadDeadline(time.Time{})
		return nil
	}
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, stream *pushStream, logger Logger) {
	if s.ReadTimeout > 0 {
		//nolint:errcheck // read error surfaces below
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		conn.SetPingHandler(func(data string) error {
			//nolint:errcheck // read error surfaces below
			conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				stream.fail(nil)
			} else {
				stream.fail(err)
			}
			return
		}
		if s.ReadTimeout > 0 {
			//nolint:errcheck // read error surfaces above
			conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}

		switch msg.Type {
		case MsgEvent:
			ev, err := Decode(msg.Payload)
			if err != nil {
				logger.Warn("discarding malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			if !stream.push(ev) {
				return
			}
		case MsgError:
			var ep ErrorPayload
			_ = json.Unmarshal(msg.Payload, &ep) //nolint:errcheck // message is optional
			logger.Warn("server reported error", "message", ep.Message)
		}
	}
}
