package presence

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/charla-io/charla/internal/config"
)

func newRegistry() *Registry {
	return &Registry{
		cfg: config.DeviceConfig{
			ID:               "runtime-1",
			HeartbeatTimeout: 100,
		},
		log:     slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
		devices: make(map[string]*DeviceInfo),
	}
}

func TestQueryWithCapability(t *testing.T) {
	r := newRegistry()
	r.update("mic-1", "microphone", []string{"microphone"}, time.Now())
	r.update("speaker-1", "speaker", []string{"speaker"}, time.Now())

	speakers := r.Query(WithCapability("speaker"))
	if len(speakers) != 1 || speakers[0].ID != "speaker-1" {
		t.Fatalf("expected only speaker-1, got %+v", speakers)
	}

	all := r.Query(nil)
	if len(all) != 2 {
		t.Fatalf("expected both devices without filter, got %d", len(all))
	}
}

func TestHeartbeatKeepsDeviceAlive(t *testing.T) {
	r := newRegistry()
	r.update("speaker-1", "speaker", []string{"speaker"}, time.Now().Add(-time.Second))
	r.expireStale()

	devices := r.Query(WithCapability("speaker"))
	if len(devices) != 1 || devices[0].Healthy {
		t.Fatalf("expected stale speaker marked unhealthy, got %+v", devices)
	}

	// A bare heartbeat revives the device without re-announcing role or
	// capabilities.
	r.update("speaker-1", "", nil, time.Now())
	devices = r.Query(WithCapability("speaker"))
	if len(devices) != 1 || !devices[0].Healthy {
		t.Fatalf("expected heartbeat to revive speaker, got %+v", devices)
	}
	if devices[0].Role != "speaker" {
		t.Fatalf("heartbeat must not erase the announced role, got %q", devices[0].Role)
	}
}

func TestSnapshotCounts(t *testing.T) {
	r := newRegistry()
	r.update("a", "speaker", []string{"speaker"}, time.Now())
	r.update("b", "microphone", []string{"microphone"}, time.Now().Add(-time.Second))
	r.expireStale()

	total, healthy := r.snapshotCounts()
	if total != 2 || healthy != 1 {
		t.Fatalf("expected 2 total / 1 healthy, got %d/%d", total, healthy)
	}
}
