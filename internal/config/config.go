package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Language    string           `yaml:"language"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Device      DeviceConfig     `yaml:"device"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Router      RouterConfig     `yaml:"router"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DeviceConfig identifies this runtime on the presence channel and bounds
// how long a silent edge device is still considered alive.
type DeviceConfig struct {
	ID                string   `yaml:"id"`
	Role              string   `yaml:"role"`
	HeartbeatInterval int      `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int      `yaml:"heartbeat_timeout_ms"`
	Capabilities      []string `yaml:"capabilities"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type LLMConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Mode           string  `yaml:"mode"` // mock, ollama, exec
	Endpoint       string  `yaml:"endpoint"`
	Command        string  `yaml:"command"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	ConnectRetries int     `yaml:"connect_retries"`
}

type TTSConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Mode                string `yaml:"mode"` // mock, exec
	Command             string `yaml:"command"`
	Voice               string `yaml:"voice"`
	SampleRate          int    `yaml:"sample_rate"`
	Channels            int    `yaml:"channels"`
	FirstChunkTimeoutMS int    `yaml:"first_chunk_timeout_ms"`
	OverallTimeoutMS    int    `yaml:"overall_timeout_ms"`
	FallbackToneHz      int    `yaml:"fallback_tone_hz"`
	FallbackToneMS      int    `yaml:"fallback_tone_ms"`
}

type RouterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Target  string `yaml:"target"`
}

func Default() Config {
	return Config{
		RuntimeName: "charla-runtime",
		Environment: "development",
		Language:    "english",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Device: DeviceConfig{
			ID:                "charla-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities:      []string{"runtime"},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/charla-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Enabled:    false,
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		LLM: LLMConfig{
			Enabled:        false,
			Mode:           "mock",
			Endpoint:       "http://localhost:11434",
			Model:          "granite3-dense:latest",
			MaxTokens:      200,
			Temperature:    0.7,
			ConnectRetries: 5,
		},
		TTS: TTSConfig{
			Enabled:             false,
			Mode:                "mock",
			SampleRate:          16000,
			Channels:            1,
			FirstChunkTimeoutMS: 15000,
			OverallTimeoutMS:    30000,
			FallbackToneHz:      440,
			FallbackToneMS:      500,
		},
		Router: RouterConfig{
			Enabled: true,
			Target:  "default",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "CHARLA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CHARLA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Language, "CHARLA_LANGUAGE")
	overrideString(&cfg.HTTP.Bind, "CHARLA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CHARLA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CHARLA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CHARLA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CHARLA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "CHARLA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CHARLA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CHARLA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CHARLA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CHARLA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CHARLA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CHARLA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CHARLA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Device.ID, "CHARLA_DEVICE_ID")
	overrideString(&cfg.Device.Role, "CHARLA_DEVICE_ROLE")
	overrideInt(&cfg.Device.HeartbeatInterval, "CHARLA_DEVICE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Device.HeartbeatTimeout, "CHARLA_DEVICE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "CHARLA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "CHARLA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "CHARLA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "CHARLA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "CHARLA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "CHARLA_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "CHARLA_STT_MODE")
	overrideString(&cfg.STT.Command, "CHARLA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "CHARLA_STT_MODEL_PATH")
	overrideInt(&cfg.STT.SampleRate, "CHARLA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "CHARLA_STT_CHANNELS")
	overrideBool(&cfg.LLM.Enabled, "CHARLA_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "CHARLA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "CHARLA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "CHARLA_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "CHARLA_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "CHARLA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "CHARLA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.ConnectRetries, "CHARLA_LLM_CONNECT_RETRIES")
	overrideBool(&cfg.TTS.Enabled, "CHARLA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "CHARLA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "CHARLA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "CHARLA_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "CHARLA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "CHARLA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.FirstChunkTimeoutMS, "CHARLA_TTS_FIRST_CHUNK_TIMEOUT_MS")
	overrideInt(&cfg.TTS.OverallTimeoutMS, "CHARLA_TTS_OVERALL_TIMEOUT_MS")
	overrideInt(&cfg.TTS.FallbackToneHz, "CHARLA_TTS_FALLBACK_TONE_HZ")
	overrideInt(&cfg.TTS.FallbackToneMS, "CHARLA_TTS_FALLBACK_TONE_MS")
	overrideBool(&cfg.Router.Enabled, "CHARLA_ROUTER_ENABLED")
	overrideString(&cfg.Router.Target, "CHARLA_ROUTER_TARGET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Device.ID == "" {
		return errors.New("device.id must not be empty")
	}
	if cfg.Device.HeartbeatInterval <= 0 {
		return errors.New("device.heartbeat_interval_ms must be positive")
	}
	if cfg.Device.HeartbeatTimeout <= cfg.Device.HeartbeatInterval {
		return errors.New("device.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.STT.Enabled {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.FirstChunkTimeoutMS <= 0 {
			return errors.New("tts.first_chunk_timeout_ms must be positive")
		}
		if cfg.TTS.OverallTimeoutMS < cfg.TTS.FirstChunkTimeoutMS {
			return errors.New("tts.overall_timeout_ms must be >= first_chunk_timeout_ms")
		}
	}
	return nil
}
