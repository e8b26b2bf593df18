package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/config"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/logging"
	"github.com/nerrad567/sentinel-core/internal/metrics"
	"github.com/nerrad567/sentinel-core/internal/notify"
)

// SignalsChannel carries notification signals to WebSocket clients.
const SignalsChannel = "signals"

// Defaults applied when the WebSocket config leaves a field unset.
const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30 // seconds
	defaultPongTimeout    = 10 // seconds
)

// Hub manages WebSocket observers and relays store events to them.
type Hub struct {
	cfg     config.WebSocketConfig
	broker  *channel.Broker
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket observer.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	sessionID     string
	closeOnce     sync.Once
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub relaying events from broker. broker may be nil,
// in which case only signals are relayed.
func NewHub(cfg config.WebSocketConfig, broker *channel.Broker, logger *logging.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		broker:  broker,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run relays broker events until ctx is cancelled, then disconnects
// every client.
//
// If the hub's broker subscription is dropped for falling behind, events
// have been lost for every client, so all clients are disconnected and the
// hub subscribes again.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	if h.broker == nil {
		<-ctx.Done()
		return
	}

	for {
		sub, err := h.broker.Subscribe()
		if err != nil {
			h.logger.Warn("websocket hub cannot subscribe to events", "error", err)
			<-ctx.Done()
			return
		}
		err = h.relay(ctx, sub)
		sub.Close()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, channel.ErrBrokerClosed):
			<-ctx.Done()
			return
		default:
			n := h.disconnectAll()
			h.logger.Warn("websocket hub lost its event subscription, observers disconnected",
				"error", err, "clients", n)
		}
	}
}

func (h *Hub) relay(ctx context.Context, sub *channel.Subscription) error {
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		msg, err := channel.EventMessage(ev)
		if err != nil {
			h.logger.Error("failed to encode event", "kind", ev.Kind, "id", ev.ID, "error", err)
			continue
		}
		h.broadcast(msg)
	}
}

// BroadcastSignal sends sig to clients subscribed to SignalsChannel.
// It has the shape of a notify.FuncSink.
func (h *Hub) BroadcastSignal(_ context.Context, sig notify.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	h.broadcast(channel.Message{
		Type:      channel.MsgEvent,
		Channel:   SignalsChannel,
		Timestamp: sig.At,
		Payload:   raw,
	})
	return nil
}

// broadcast sends msg to every client subscribed to msg.Channel.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks.
func (h *Hub) broadcast(msg channel.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(msg.Channel) {
			client.trySend(data)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ObserversConnected.Inc()
	h.logger.Debug("websocket client connected", "session", client.sessionID, "clients", n)
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		metrics.ObserversConnected.Dec()
	}
	h.logger.Debug("websocket client disconnected", "session", client.sessionID, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// disconnectAll closes every client connection. The read pumps then
// unregister them. Returns how many were closed.
func (h *Hub) disconnectAll() int {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.disconnect()
	}
	return len(clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.disconnect()
		delete(h.clients, client)
		metrics.ObserversConnected.Dec()
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket observer session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, string(entity.ReasonChannelDisconnected), "event channel not running")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, s.hub.cfg.SendBuffer),
		subscriptions: make(map[string]struct{}),
		sessionID:     uuid.NewString(),
	}

	s.hub.Register(client)

	go client.writePump(s.hub.cfg)
	go client.readPump(s.hub.cfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.disconnect()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "session", c.sessionID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.disconnect()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg channel.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case channel.MsgSubscribe:
		c.handleSubscribe(msg)
	case channel.MsgUnsubscribe:
		c.handleUnsubscribe(msg)
	case channel.MsgPing:
		c.sendResponse(msg.ID, channel.MsgPong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// validChannel reports whether name is a channel the hub publishes on.
func validChannel(name string) bool {
	if name == SignalsChannel {
		return true
	}
	_, ok := channel.KindOfChannel(name)
	return ok
}

// handleSubscribe adds channels to the client's subscription list.
// The request is rejected as a whole if any channel is unknown.
func (c *WSClient) handleSubscribe(msg channel.Message) {
	var sub channel.SubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}
	for _, ch := range sub.Channels {
		if !validChannel(ch) {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "session", c.sessionID, "channels", sub.Channels)

	c.sendResponse(msg.ID, channel.MsgResponse, map[string]any{
		"subscribed": sub.Channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg channel.Message) {
	var sub channel.SubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, channel.MsgResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// trySend queues data for the client. A client whose buffer is full has
// missed an event and is disconnected so that it resyncs.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		metrics.SubscribersDropped.Inc()
		c.hub.logger.Warn("websocket client too slow, disconnecting", "session", c.sessionID)
		c.disconnect()
	}
}

// disconnect closes the underlying connection once. The pumps notice and
// unregister the client.
func (c *WSClient) disconnect() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[name]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg, err := channel.NewMessage(msgType, id, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, channel.MsgError, channel.ErrorPayload{Message: message})
}
