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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
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

// EngineConfig selects and tunes the speech engine adapter.
type EngineConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec
	Command    string  `yaml:"command"`
	Voice      string  `yaml:"voice"`
	Language   string  `yaml:"language"`
	Rate       float64 `yaml:"rate"`
	Pitch      float64 `yaml:"pitch"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
}

// SynthesisConfig describes the external TTS endpoints. Both endpoints are
// treated as unreliable collaborators; an empty endpoint disables that tier.
type SynthesisConfig struct {
	PrimaryEndpoint   string `yaml:"primary_endpoint"`
	SecondaryEndpoint string `yaml:"secondary_endpoint"`
	APIKey            string `yaml:"api_key"`
	MaxChunkChars     int    `yaml:"max_chunk_chars"`
	RequestTimeout    int    `yaml:"request_timeout_ms"`
}

// CaptureConfig tunes the local capture tier of the pipeline.
type CaptureConfig struct {
	SafetyMarginMS int     `yaml:"safety_margin_ms"`
	OscillatorHz   float64 `yaml:"oscillator_hz"`
	OscillatorGain float64 `yaml:"oscillator_gain"`
}

// RecorderConfig bounds the auxiliary media recorder.
type RecorderConfig struct {
	MaxDurationS    int `yaml:"max_duration_s"`
	ChunkIntervalMS int `yaml:"chunk_interval_ms"`
}

type PlaybackConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleRate int  `yaml:"sample_rate"`
	Channels   int  `yaml:"channels"`
}

type DownloadsConfig struct {
	Directory string `yaml:"directory"`
}

// HistoryConfig mirrors the retention knobs of the conversion record store.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ServiceConfig struct {
	Enabled        bool `yaml:"enabled"`
	UseLocalEngine bool `yaml:"use_local_engine"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Engine      EngineConfig    `yaml:"engine"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Capture     CaptureConfig   `yaml:"capture"`
	Recorder    RecorderConfig  `yaml:"recorder"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Downloads   DownloadsConfig `yaml:"downloads"`
	History     HistoryConfig   `yaml:"history"`
	Service     ServiceConfig   `yaml:"service"`
}

func Default() Config {
	return Config{
		RuntimeName: "voz-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			Language:   "es-ES",
			Rate:       1.0,
			Pitch:      1.0,
			SampleRate: 22050,
			Channels:   1,
		},
		Synthesis: SynthesisConfig{
			MaxChunkChars:  200,
			RequestTimeout: 10000,
		},
		Capture: CaptureConfig{
			SafetyMarginMS: 2000,
			OscillatorHz:   440,
			OscillatorGain: 0.1,
		},
		Recorder: RecorderConfig{
			MaxDurationS:    120,
			ChunkIntervalMS: 100,
		},
		Playback: PlaybackConfig{
			Enabled:    false,
			SampleRate: 22050,
			Channels:   1,
		},
		Downloads: DownloadsConfig{
			Directory: "./downloads",
		},
		History: HistoryConfig{
			Path:          "./data/voz-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Service: ServiceConfig{
			Enabled:        true,
			UseLocalEngine: false,
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
	overrideString(&cfg.RuntimeName, "VOZ_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOZ_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOZ_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOZ_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOZ_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOZ_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOZ_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOZ_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOZ_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOZ_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOZ_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOZ_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOZ_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOZ_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOZ_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOZ_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "VOZ_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOZ_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Voice, "VOZ_ENGINE_VOICE")
	overrideString(&cfg.Engine.Language, "VOZ_ENGINE_LANGUAGE")
	overrideFloat(&cfg.Engine.Rate, "VOZ_ENGINE_RATE")
	overrideFloat(&cfg.Engine.Pitch, "VOZ_ENGINE_PITCH")
	overrideInt(&cfg.Engine.SampleRate, "VOZ_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.Channels, "VOZ_ENGINE_CHANNELS")
	overrideString(&cfg.Synthesis.PrimaryEndpoint, "VOZ_SYNTHESIS_PRIMARY_ENDPOINT")
	overrideString(&cfg.Synthesis.SecondaryEndpoint, "VOZ_SYNTHESIS_SECONDARY_ENDPOINT")
	overrideString(&cfg.Synthesis.APIKey, "VOZ_SYNTHESIS_API_KEY")
	overrideInt(&cfg.Synthesis.MaxChunkChars, "VOZ_SYNTHESIS_MAX_CHUNK_CHARS")
	overrideInt(&cfg.Synthesis.RequestTimeout, "VOZ_SYNTHESIS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Capture.SafetyMarginMS, "VOZ_CAPTURE_SAFETY_MARGIN_MS")
	overrideFloat(&cfg.Capture.OscillatorHz, "VOZ_CAPTURE_OSCILLATOR_HZ")
	overrideFloat(&cfg.Capture.OscillatorGain, "VOZ_CAPTURE_OSCILLATOR_GAIN")
	overrideInt(&cfg.Recorder.MaxDurationS, "VOZ_RECORDER_MAX_DURATION_S")
	overrideInt(&cfg.Recorder.ChunkIntervalMS, "VOZ_RECORDER_CHUNK_INTERVAL_MS")
	overrideBool(&cfg.Playback.Enabled, "VOZ_PLAYBACK_ENABLED")
	overrideInt(&cfg.Playback.SampleRate, "VOZ_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "VOZ_PLAYBACK_CHANNELS")
	overrideString(&cfg.Downloads.Directory, "VOZ_DOWNLOADS_DIRECTORY")
	overrideString(&cfg.History.Path, "VOZ_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VOZ_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VOZ_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRecords, "VOZ_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "VOZ_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Service.Enabled, "VOZ_SERVICE_ENABLED")
	overrideBool(&cfg.Service.UseLocalEngine, "VOZ_SERVICE_USE_LOCAL_ENGINE")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.Channels <= 0 {
		return errors.New("engine.channels must be positive")
	}
	if cfg.Engine.Rate <= 0 {
		return errors.New("engine.rate must be positive")
	}
	if cfg.Synthesis.MaxChunkChars <= 0 {
		return errors.New("synthesis.max_chunk_chars must be positive")
	}
	if cfg.Synthesis.RequestTimeout <= 0 {
		return errors.New("synthesis.request_timeout_ms must be positive")
	}
	if cfg.Capture.SafetyMarginMS < 0 {
		return errors.New("capture.safety_margin_ms must be >= 0")
	}
	if cfg.Capture.OscillatorGain < 0 || cfg.Capture.OscillatorGain > 1 {
		return errors.New("capture.oscillator_gain must be within [0, 1]")
	}
	if cfg.Recorder.MaxDurationS <= 0 {
		return errors.New("recorder.max_duration_s must be positive")
	}
	if cfg.Recorder.ChunkIntervalMS <= 0 {
		return errors.New("recorder.chunk_interval_ms must be positive")
	}
	if cfg.Downloads.Directory == "" {
		return errors.New("downloads.directory must not be empty")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
