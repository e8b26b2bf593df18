package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/sentinel-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "sentinel-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a Client that never dialled a broker.
func disconnectedClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Event", topics.Event("alert", "a-1"), "sentinel/events/alert/a-1"},
		{"Discovery", topics.Discovery("device"), "sentinel/discovery/device"},
		{"DeviceRemoved", topics.DeviceRemoved(), "sentinel/discovery/device/removed"},
		{"Signal", topics.Signal("critical"), "sentinel/signals/critical"},
		{"SystemStatus", topics.SystemStatus(), "sentinel/system/status"},
		{"AllEvents", topics.AllEvents(), "sentinel/events/+/+"},
		{"AllEventsOfKind", topics.AllEventsOfKind("vulnerability"), "sentinel/events/vulnerability/+"},
		{"AllDiscovery", topics.AllDiscovery(), "sentinel/discovery/#"},
		{"AllSignals", topics.AllSignals(), "sentinel/signals/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseEventTopic(t *testing.T) {
	tests := []struct {
		topic    string
		kind, id string
		ok       bool
	}{
		{"sentinel/events/device/cam-1", "device", "cam-1", true},
		{"sentinel/events/alert/", "", "", false},
		{"sentinel/events/alert", "", "", false},
		{"sentinel/events/alert/a/b", "", "", false},
		{"sentinel/signals/high", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, id, ok := ParseEventTopic(tt.topic)
			if ok != tt.ok || kind != tt.kind || id != tt.id {
				t.Errorf("ParseEventTopic(%q) = %q, %q, %v", tt.topic, kind, id, ok)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "sentinel-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v", opts.TLSConfig)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect with a clean session")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "sentinel-test")

	if !opts.WillEnabled || opts.WillTopic != "sentinel/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != "unexpected_disconnect" || msg.ClientID != "sentinel-test" {
		t.Errorf("will = %+v", msg)
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "sentinel/events/alert/a-1", nil, 3, ErrInvalidQoS},
		{"oversized", "sentinel/events/alert/a-1", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "sentinel/events/alert/a-1", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_EncodingError(t *testing.T) {
	c := disconnectedClient()
	err := c.PublishJSON("sentinel/signals/high", make(chan int))
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("sentinel/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("sentinel/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("sentinel/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("sentinel/#") {
		t.Error("failed subscribe must not be tracked")
	}
}

func TestUnsubscribe_DropsTrackingWhenDisconnected(t *testing.T) {
	c := disconnectedClient()
	c.subscriptions["sentinel/events/+/+"] = subscription{topic: "sentinel/events/+/+"}

	if err := c.Unsubscribe("sentinel/events/+/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription("sentinel/events/+/+") {
		t.Error("subscription still tracked")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestCloseNil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestWrapHandler(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + " " + string(payload)
		return errors.New("bad payload")
	})(nil, fakeMessage{topic: "sentinel/discovery/device", payload: []byte("{}")})

	if got != "sentinel/discovery/device {}" {
		t.Errorf("handler saw %q", got)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want handler error logged", logger.warns)
	}

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "sentinel/discovery/device"})

	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want recovered panic logged", logger.errors)
	}
}

func TestHandleDisconnect_InvokesCallback(t *testing.T) {
	c := disconnectedClient()
	c.connected = true

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	c.handleDisconnect(errors.New("network down"))

	if got == nil || got.Error() != "network down" {
		t.Errorf("callback error = %v", got)
	}
	if c.connected {
		t.Error("connected flag still set")
	}
}

func TestIsConnected_NilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reported connected")
	}
}
