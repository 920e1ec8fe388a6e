package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Language != "english" {
		t.Fatalf("expected default language english, got %q", cfg.Language)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.FirstChunkTimeoutMS != 15000 || cfg.TTS.OverallTimeoutMS != 30000 {
		t.Fatalf("unexpected default collector deadlines: %d/%d",
			cfg.TTS.FirstChunkTimeoutMS, cfg.TTS.OverallTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHARLA_LANGUAGE", "spanish")
	t.Setenv("CHARLA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("CHARLA_BUS_USERNAME", "alice")
	t.Setenv("CHARLA_BUS_PASSWORD", "secret")
	t.Setenv("CHARLA_BUS_TLS_INSECURE", "true")
	t.Setenv("CHARLA_DEVICE_ID", "test-node")
	t.Setenv("CHARLA_DEVICE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("CHARLA_DEVICE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("CHARLA_LLM_MODEL", "llama3.2:latest")
	t.Setenv("CHARLA_TTS_ENABLED", "true")
	t.Setenv("CHARLA_TTS_FIRST_CHUNK_TIMEOUT_MS", "500")
	t.Setenv("CHARLA_TTS_OVERALL_TIMEOUT_MS", "2000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Language != "spanish" {
		t.Fatalf("expected language override, got %q", cfg.Language)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Device.ID != "test-node" {
		t.Fatalf("expected device id override")
	}
	if cfg.Device.HeartbeatInterval != 1500 || cfg.Device.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat overrides")
	}
	if cfg.LLM.Model != "llama3.2:latest" {
		t.Fatalf("expected llm model override")
	}
	if cfg.TTS.FirstChunkTimeoutMS != 500 || cfg.TTS.OverallTimeoutMS != 2000 {
		t.Fatalf("expected collector deadline overrides")
	}
}

func TestValidateRejectsInvertedDeadlines(t *testing.T) {
	t.Setenv("CHARLA_TTS_ENABLED", "true")
	t.Setenv("CHARLA_TTS_FIRST_CHUNK_TIMEOUT_MS", "5000")
	t.Setenv("CHARLA_TTS_OVERALL_TIMEOUT_MS", "1000")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for overall < first chunk timeout")
	}
}
