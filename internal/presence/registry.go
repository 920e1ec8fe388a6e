package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DeviceInfo tracks one announced edge device (microphone, speaker, or this
// runtime itself).
type DeviceInfo struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"last_seen"`
	Healthy      bool      `json:"healthy"`
}

type announceMessage struct {
	DeviceID     string    `json:"device_id"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	Timestamp    time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry keeps the live view of devices on the presence subjects and
// heartbeats on behalf of this runtime.
type Registry struct {
	cfg       config.DeviceConfig
	log       *slog.Logger
	bus       *bus.Client
	mu        sync.RWMutex
	devices   map[string]*DeviceInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
}

func NewRegistry(ctx context.Context, cfg config.DeviceConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "presence")),
		bus:     busClient,
		devices: make(map[string]*DeviceInfo),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize presence metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorLiveness(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce device", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectDeviceAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectDeviceHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorLiveness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireStale()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		DeviceID:     r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.cfg.Capabilities,
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(protocol.SubjectDeviceAnnounce, payload); err != nil {
		return err
	}
	r.update(msg.DeviceID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		DeviceID:  r.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectDeviceHeartbeatPrefix, r.cfg.ID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.update(announcement.DeviceID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.update(hb.DeviceID, "", nil, hb.Timestamp)
}

func (r *Registry) update(deviceID, role string, capabilities []string, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		device = &DeviceInfo{ID: deviceID}
		r.devices[deviceID] = device
	}
	if role != "" {
		device.Role = role
	}
	if len(capabilities) > 0 {
		device.Capabilities = capabilities
	}
	device.LastSeen = timestamp
	device.Healthy = true
}

func (r *Registry) expireStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, device := range r.devices {
		if now.Sub(device.LastSeen) > timeout {
			device.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[r.cfg.ID]
	return ok && device.Healthy
}

// Query returns devices matching the filter; nil matches everything.
func (r *Registry) Query(filter func(DeviceInfo) bool) []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []DeviceInfo
	for _, device := range r.devices {
		info := *device
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	return results
}

// WithCapability filters Query results to devices advertising name.
func WithCapability(name string) func(DeviceInfo) bool {
	return func(device DeviceInfo) bool {
		for _, capability := range device.Capabilities {
			if capability == name {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/charla-io/charla/presence")
	gauge, err := meter.Int64ObservableGauge("charla.presence.devices",
		metric.WithDescription("Number of known edge devices"))
	if err != nil {
		return err
	}
	healthyGauge, err := meter.Int64ObservableGauge("charla.presence.devices_healthy",
		metric.WithDescription("Edge devices with a fresh heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, healthy := r.snapshotCounts()
		obs.ObserveInt64(gauge, total)
		obs.ObserveInt64(healthyGauge, healthy)
		return nil
	}, gauge, healthyGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, healthy int64
	for _, device := range r.devices {
		total++
		if device.Healthy {
			healthy++
		}
	}
	return total, healthy
}
