package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sentinel-core/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "sentinel-dev-token",
		Org:           "sentinel",
		Bucket:        "sentinel",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func newTestClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	return &Client{writeAPI: w, cfg: testConfig(), connected: true}, w
}

func tagsOf(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestWriteTransition(t *testing.T) {
	c, w := newTestClient()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	c.WriteTransition(Transition{
		Kind: "alert", ID: "a-1", OwnerID: "dev-1",
		From: "open", To: "resolved", Version: 3, At: at,
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementTransition || !p.Time().Equal(at) {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}
	tags := tagsOf(p)
	if tags["kind"] != "alert" || tags["from"] != "open" || tags["to"] != "resolved" {
		t.Errorf("tags = %v", tags)
	}
	if _, ok := tags["id"]; ok {
		t.Error("entity id must not be a tag")
	}
	fields := fieldsOf(p)
	if fields["id"] != "a-1" || fields["device_id"] != "dev-1" {
		t.Errorf("fields = %v", fields)
	}
}

func TestWriteTransition_CreationHasNoFromTag(t *testing.T) {
	c, w := newTestClient()
	c.WriteTransition(Transition{Kind: "device", ID: "dev-1", To: "online", Version: 1, At: time.Now()})

	if _, ok := tagsOf(w.points[0])["from"]; ok {
		t.Error("from tag set on creation")
	}
	if _, ok := fieldsOf(w.points[0])["device_id"]; ok {
		t.Error("device_id field set for a device")
	}
}

func TestWriteExposure(t *testing.T) {
	c, w := newTestClient()
	c.WriteExposure(Exposure{DeviceID: "dev-1", RiskScore: 0.7, OpenAlerts: 2, UnpatchedVulns: 1, At: time.Now()})

	p := w.points[0]
	if p.Name() != MeasurementExposure || tagsOf(p)["device_id"] != "dev-1" {
		t.Errorf("point = %s %v", p.Name(), tagsOf(p))
	}
	fields := fieldsOf(p)
	if fields["risk_score"] != 0.7 {
		t.Errorf("risk_score = %v", fields["risk_score"])
	}
	if len(fields) != 3 {
		t.Errorf("fields = %v", fields)
	}
}

func TestWrites_DroppedWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	c.connected = false

	c.WriteTransition(Transition{Kind: "alert", ID: "a-1", To: "open"})
	c.WriteExposure(Exposure{DeviceID: "dev-1"})
	c.Flush()

	if len(w.points) != 0 || w.flushes != 0 {
		t.Errorf("points = %d flushes = %d, want none", len(w.points), w.flushes)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestHandleWriteErrors_WrapsAndForwards(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	if err := <-got; !errors.Is(err, ErrWriteFailed) {
		t.Errorf("callback error = %v, want ErrWriteFailed", err)
	}
}

// TestConnect_Live runs only when RUN_INTEGRATION is set and a local
// InfluxDB is reachable.
func TestConnect_Live(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set")
	}
	ctx := context.Background()

	client, err := Connect(ctx, testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	client.WriteTransition(Transition{Kind: "alert", ID: "it-1", To: "open", Version: 1, At: time.Now()})
	client.Flush()
}
