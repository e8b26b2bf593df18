package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/infrastructure/mqtt"
)

// maxRefreshAttempts bounds retries when a device refresh races another writer.
const maxRefreshAttempts = 3

// Ingestor is the part of the store the discovery handler writes to.
type Ingestor interface {
	Create(ctx context.Context, snap *entity.Snapshot) (*entity.Snapshot, error)
	Apply(ctx context.Context, kind entity.Kind, id string, m entity.Mutation) (*entity.Snapshot, error)
	Get(kind entity.Kind, id string) (*entity.Snapshot, error)
	RemoveDevice(ctx context.Context, id string) ([]entity.Tombstone, error)
}

// DeviceRemoval is the payload of sentinel/discovery/device/removed.
type DeviceRemoval struct {
	ID string `json:"id"`
}

// DiscoveryHandler turns scanner announcements on sentinel/discovery/...
// into store operations.
//
// sentinel/discovery/{kind} carries the entity record itself. A device that
// is announced again refreshes its address and last_seen instead of failing.
type DiscoveryHandler struct {
	ingestor Ingestor
	logger   Logger
}

// NewDiscoveryHandler creates a handler writing to ingestor.
func NewDiscoveryHandler(ingestor Ingestor) *DiscoveryHandler {
	return &DiscoveryHandler{ingestor: ingestor, logger: noopLogger{}}
}

// SetLogger sets the logger for the handler.
func (h *DiscoveryHandler) SetLogger(logger Logger) {
	h.logger = logger
}

// Start subscribes the handler on client.
func (h *DiscoveryHandler) Start(client MQTTClient) error {
	return client.Subscribe(mqtt.Topics{}.AllDiscovery(), eventQoS, h.HandleMessage)
}

// Stop removes the discovery subscription.
func (h *DiscoveryHandler) Stop(client MQTTClient) error {
	return client.Unsubscribe(mqtt.Topics{}.AllDiscovery())
}

// HandleMessage processes one discovery message. It satisfies mqtt.MessageHandler.
func (h *DiscoveryHandler) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if topic == (mqtt.Topics{}).DeviceRemoved() {
		var msg DeviceRemoval
		if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
			return fmt.Errorf("%w: device removal needs an id", ErrMalformedEvent)
		}
		removed, err := h.ingestor.RemoveDevice(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("removing device %s: %w", msg.ID, err)
		}
		h.logger.Info("device removed by discovery", "device_id", msg.ID, "entities", len(removed))
		return nil
	}

	kindName, ok := strings.CutPrefix(topic, mqtt.TopicPrefixDiscovery+"/")
	if !ok {
		return fmt.Errorf("unexpected discovery topic %s", topic)
	}
	kind, err := entity.ParseKind(kindName)
	if err != nil {
		return err
	}

	snap, err := DecodeRecord(kind, payload)
	if err != nil {
		return err
	}

	created, err := h.ingestor.Create(ctx, snap)
	switch {
	case err == nil:
		h.logger.Info("entity discovered", "kind", kind, "id", created.ID)
		return nil
	case kind == entity.KindDevice && entity.ReasonOf(err) == entity.ReasonAlreadyExists:
		return h.refreshDevice(ctx, snap.Device)
	default:
		return fmt.Errorf("creating %s: %w", kind, err)
	}
}

// refreshDevice marks a re-announced device as seen.
func (h *DiscoveryHandler) refreshDevice(ctx context.Context, d *entity.Device) error {
	var lastErr error
	for range maxRefreshAttempts {
		cur, err := h.ingestor.Get(entity.KindDevice, d.ID)
		if err != nil {
			return err
		}
		seen := d.LastSeen
		if seen.IsZero() {
			seen = time.Now().UTC()
		}
		online := entity.DeviceOnline
		patch := &entity.DevicePatch{LastSeen: &seen, Status: &online}
		if d.IPAddress != "" {
			patch.IPAddress = &d.IPAddress
		}
		_, lastErr = h.ingestor.Apply(ctx, entity.KindDevice, d.ID, entity.Mutation{
			SourceVersion: cur.Version,
			Device:        patch,
		})
		if lastErr == nil || entity.ReasonOf(lastErr) != entity.ReasonStaleWrite {
			break
		}
	}
	if lastErr != nil {
		return fmt.Errorf("refreshing device %s: %w", d.ID, lastErr)
	}
	return nil
}

// DecodeRecord parses a kind-specific JSON record (a bare Device, Alert or
// Vulnerability) into a version-1 snapshot. Decode failures wrap
// ErrMalformedEvent.
func DecodeRecord(kind entity.Kind, payload []byte) (*entity.Snapshot, error) {
	var snap *entity.Snapshot
	var err error
	switch kind {
	case entity.KindDevice:
		var d entity.Device
		err = json.Unmarshal(payload, &d)
		snap = entity.NewDeviceSnapshot(d)
	case entity.KindAlert:
		var a entity.Alert
		err = json.Unmarshal(payload, &a)
		snap = entity.NewAlertSnapshot(a)
	case entity.KindVulnerability:
		var v entity.Vulnerability
		err = json.Unmarshal(payload, &v)
		snap = entity.NewVulnerabilitySnapshot(v)
	default:
		return nil, entity.ErrInvalidKind
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return snap, nil
}
