package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Voices      VoicesConfig      `yaml:"voices"`
	STT         STTConfig         `yaml:"stt"`
	Translation TranslationConfig `yaml:"translation"`
	TTS         TTSConfig         `yaml:"tts"`
	Session     SessionConfig     `yaml:"session"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	Persist        bool     `yaml:"persist_session_events"`
	StreamMaxAgeMS int      `yaml:"stream_max_age_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type VoicesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type STTConfig struct {
	Mode               string  `yaml:"mode"` // speechmatics, exec, mock
	URL                string  `yaml:"url"`
	APIKey             string  `yaml:"api_key"`
	SampleRate         int     `yaml:"sample_rate"`
	OperatingPoint     string  `yaml:"operating_point"`
	MaxDelaySeconds    float64 `yaml:"max_delay_seconds"`
	HandshakeTimeoutMS int     `yaml:"handshake_timeout_ms"`
	Command            string  `yaml:"command"`
	WindowMS           int     `yaml:"window_ms"`
}

type TranslationConfig struct {
	Mode           string  `yaml:"mode"` // minimax, ollama, exec, mock
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Command        string  `yaml:"command"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	Stream         bool    `yaml:"stream"`
	RequestTimeout int     `yaml:"request_timeout_ms"`
}

type TTSConfig struct {
	Primary        string                `yaml:"primary"` // minimax, speechmatics, exec, mock
	Secondary      string                `yaml:"secondary"`
	MiniMax        MiniMaxTTSConfig      `yaml:"minimax"`
	Speechmatics   SpeechmaticsTTSConfig `yaml:"speechmatics"`
	ElevenLabs     ElevenLabsConfig      `yaml:"elevenlabs"`
	Exec           ExecTTSConfig         `yaml:"exec"`
	RequestTimeout int                   `yaml:"request_timeout_ms"`
	EventTimeout   int                   `yaml:"event_timeout_ms"`
}

type MiniMaxTTSConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	GroupID    string `yaml:"group_id"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Stream     bool   `yaml:"stream"`
}

type SpeechmaticsTTSConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	APIKey       string            `yaml:"api_key"`
	OutputFormat string            `yaml:"output_format"`
	Voice        string            `yaml:"voice"`
	VoiceByLang  map[string]string `yaml:"voice_by_language"`
	Languages    []string          `yaml:"languages"`
}

type ElevenLabsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Format   string `yaml:"output_format"`
}

type ExecTTSConfig struct {
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type SessionConfig struct {
	TranslateViaRecognizer bool   `yaml:"translate_via_recognizer"`
	DefaultSourceLanguage  string `yaml:"default_source_language"`
	DefaultTargetLanguage  string `yaml:"default_target_language"`
	DefaultTTSProvider     string `yaml:"default_tts_provider"`
	TriggerChars           int    `yaml:"trigger_chars"`
	PartialMinDeltaChars   int    `yaml:"partial_min_delta_chars"`
	PartialMinIntervalMS   int    `yaml:"partial_min_interval_ms"`
	WriteTimeoutMS         int    `yaml:"write_timeout_ms"`
	MaxAudioFramesPerSec   int    `yaml:"max_audio_frames_per_sec"`
	LookupTimeoutMS        int    `yaml:"lookup_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interpreter",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StreamMaxAgeMS: 3600000,
		},
		Node: NodeConfig{
			ID:                "interpreter-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/interpreter-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Voices: VoicesConfig{
			Enabled: false,
			Path:    "./data/voices.db",
		},
		STT: STTConfig{
			Mode:               "speechmatics",
			URL:                "wss://eu2.rt.speechmatics.com/v2",
			SampleRate:         16000,
			OperatingPoint:     "enhanced",
			MaxDelaySeconds:    2.0,
			HandshakeTimeoutMS: 10000,
			WindowMS:           3000,
		},
		Translation: TranslationConfig{
			Mode:           "minimax",
			Endpoint:       "https://api.minimax.chat/v1/text/chatcompletion_v2",
			Model:          "MiniMax-Text-01",
			Temperature:    0.3,
			MaxTokens:      500,
			Stream:         true,
			RequestTimeout: 30000,
		},
		TTS: TTSConfig{
			Primary:   "minimax",
			Secondary: "speechmatics",
			MiniMax: MiniMaxTTSConfig{
				Endpoint:   "https://api.minimax.chat/v1/t2a_v2",
				Model:      "speech-02-turbo",
				SampleRate: 24000,
			},
			Speechmatics: SpeechmaticsTTSConfig{
				Endpoint:     "https://preview.tts.speechmatics.com/generate",
				OutputFormat: "wav_16000",
				VoiceByLang:  map[string]string{"en": "sarah"},
				Languages:    []string{"en"},
			},
			ElevenLabs: ElevenLabsConfig{
				Endpoint: "https://api.elevenlabs.io",
				Model:    "eleven_multilingual_v2",
				Format:   "mp3_44100_128",
			},
			Exec: ExecTTSConfig{
				SampleRate: 22050,
				Channels:   1,
			},
			RequestTimeout: 30000,
			EventTimeout:   10000,
		},
		Session: SessionConfig{
			TranslateViaRecognizer: true,
			DefaultSourceLanguage:  "en",
			DefaultTargetLanguage:  "es",
			DefaultTTSProvider:     "primary",
			TriggerChars:           24,
			PartialMinDeltaChars:   12,
			PartialMinIntervalMS:   300,
			WriteTimeoutMS:         5000,
			MaxAudioFramesPerSec:   0,
			LookupTimeoutMS:        2000,
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

	applyLegacyEnv(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyLegacyEnv honours the variable names used by earlier deployments of
// the relay. LOQA_* overrides are applied afterwards and win.
func applyLegacyEnv(cfg *Config) {
	overrideString(&cfg.STT.APIKey, "SPEECHMATICS_API_KEY")
	overrideString(&cfg.TTS.Speechmatics.APIKey, "SPEECHMATICS_API_KEY")
	overrideString(&cfg.Translation.APIKey, "MINIMAX_API_KEY")
	overrideString(&cfg.TTS.MiniMax.APIKey, "MINIMAX_API_KEY")
	overrideString(&cfg.TTS.MiniMax.GroupID, "MINIMAX_GROUP_ID")
	overrideString(&cfg.TTS.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	overrideLegacyBool(&cfg.Session.TranslateViaRecognizer, "USE_SPEECHMATICS_TRANSLATION")
	overrideString(&cfg.Session.DefaultTTSProvider, "TTS_PROVIDER")
	overrideInt(&cfg.Session.TriggerChars, "TRANSLATION_TRIGGER_CHAR_THRESHOLD")
	overrideInt(&cfg.Session.PartialMinDeltaChars, "TRANSLATION_PARTIAL_MIN_DELTA_CHARS")
	overrideInt(&cfg.Session.PartialMinIntervalMS, "TRANSLATION_PARTIAL_MIN_INTERVAL_MS")
	overrideString(&cfg.TTS.Speechmatics.OutputFormat, "SPEECHMATICS_TTS_OUTPUT_FORMAT")
	overrideString(&cfg.TTS.Speechmatics.Voice, "SPEECHMATICS_TTS_VOICE_ID")
	for _, lang := range cfg.TTS.Speechmatics.Languages {
		key := "SPEECHMATICS_TTS_VOICE_ID_" + strings.ToUpper(lang)
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			if cfg.TTS.Speechmatics.VoiceByLang == nil {
				cfg.TTS.Speechmatics.VoiceByLang = make(map[string]string)
			}
			cfg.TTS.Speechmatics.VoiceByLang[lang] = strings.TrimSpace(value)
		}
	}
	if cfg.TTS.ElevenLabs.APIKey != "" {
		cfg.TTS.ElevenLabs.Enabled = true
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "LOQA_HTTP_ALLOWED_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Persist, "LOQA_BUS_PERSIST_SESSION_EVENTS")
	overrideInt(&cfg.Bus.StreamMaxAgeMS, "LOQA_BUS_STREAM_MAX_AGE_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Voices.Enabled, "LOQA_VOICES_ENABLED")
	overrideString(&cfg.Voices.Path, "LOQA_VOICES_PATH")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.URL, "LOQA_STT_URL")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideString(&cfg.STT.OperatingPoint, "LOQA_STT_OPERATING_POINT")
	overrideFloat(&cfg.STT.MaxDelaySeconds, "LOQA_STT_MAX_DELAY_SECONDS")
	overrideInt(&cfg.STT.HandshakeTimeoutMS, "LOQA_STT_HANDSHAKE_TIMEOUT_MS")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideInt(&cfg.STT.WindowMS, "LOQA_STT_WINDOW_MS")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.Endpoint, "LOQA_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.APIKey, "LOQA_TRANSLATION_API_KEY")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideFloat(&cfg.Translation.Temperature, "LOQA_TRANSLATION_TEMPERATURE")
	overrideInt(&cfg.Translation.MaxTokens, "LOQA_TRANSLATION_MAX_TOKENS")
	overrideBool(&cfg.Translation.Stream, "LOQA_TRANSLATION_STREAM")
	overrideInt(&cfg.Translation.RequestTimeout, "LOQA_TRANSLATION_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.TTS.Primary, "LOQA_TTS_PRIMARY")
	overrideString(&cfg.TTS.Secondary, "LOQA_TTS_SECONDARY")
	overrideString(&cfg.TTS.MiniMax.Endpoint, "LOQA_TTS_MINIMAX_ENDPOINT")
	overrideString(&cfg.TTS.MiniMax.APIKey, "LOQA_TTS_MINIMAX_API_KEY")
	overrideString(&cfg.TTS.MiniMax.GroupID, "LOQA_TTS_MINIMAX_GROUP_ID")
	overrideBool(&cfg.TTS.MiniMax.Stream, "LOQA_TTS_MINIMAX_STREAM")
	overrideString(&cfg.TTS.Speechmatics.Endpoint, "LOQA_TTS_SPEECHMATICS_ENDPOINT")
	overrideString(&cfg.TTS.Speechmatics.APIKey, "LOQA_TTS_SPEECHMATICS_API_KEY")
	overrideString(&cfg.TTS.Speechmatics.OutputFormat, "LOQA_TTS_SPEECHMATICS_OUTPUT_FORMAT")
	overrideString(&cfg.TTS.Speechmatics.Voice, "LOQA_TTS_SPEECHMATICS_VOICE")
	overrideBool(&cfg.TTS.ElevenLabs.Enabled, "LOQA_TTS_ELEVENLABS_ENABLED")
	overrideString(&cfg.TTS.ElevenLabs.Endpoint, "LOQA_TTS_ELEVENLABS_ENDPOINT")
	overrideString(&cfg.TTS.ElevenLabs.APIKey, "LOQA_TTS_ELEVENLABS_API_KEY")
	overrideString(&cfg.TTS.ElevenLabs.Model, "LOQA_TTS_ELEVENLABS_MODEL")
	overrideString(&cfg.TTS.Exec.Command, "LOQA_TTS_EXEC_COMMAND")
	overrideInt(&cfg.TTS.Exec.SampleRate, "LOQA_TTS_EXEC_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Exec.Channels, "LOQA_TTS_EXEC_CHANNELS")
	overrideInt(&cfg.TTS.RequestTimeout, "LOQA_TTS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.TTS.EventTimeout, "LOQA_TTS_EVENT_TIMEOUT_MS")
	overrideBool(&cfg.Session.TranslateViaRecognizer, "LOQA_SESSION_TRANSLATE_VIA_RECOGNIZER")
	overrideString(&cfg.Session.DefaultSourceLanguage, "LOQA_SESSION_DEFAULT_SOURCE_LANGUAGE")
	overrideString(&cfg.Session.DefaultTargetLanguage, "LOQA_SESSION_DEFAULT_TARGET_LANGUAGE")
	overrideString(&cfg.Session.DefaultTTSProvider, "LOQA_SESSION_DEFAULT_TTS_PROVIDER")
	overrideInt(&cfg.Session.TriggerChars, "LOQA_SESSION_TRIGGER_CHARS")
	overrideInt(&cfg.Session.PartialMinDeltaChars, "LOQA_SESSION_PARTIAL_MIN_DELTA_CHARS")
	overrideInt(&cfg.Session.PartialMinIntervalMS, "LOQA_SESSION_PARTIAL_MIN_INTERVAL_MS")
	overrideInt(&cfg.Session.WriteTimeoutMS, "LOQA_SESSION_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Session.MaxAudioFramesPerSec, "LOQA_SESSION_MAX_AUDIO_FRAMES_PER_SEC")
	overrideInt(&cfg.Session.LookupTimeoutMS, "LOQA_SESSION_LOOKUP_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
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

// overrideLegacyBool treats anything except 0/false/no as true.
func overrideLegacyBool(target *bool, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no":
		*target = false
	default:
		*target = true
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Voices.Enabled && cfg.Voices.Path == "" {
		return errors.New("voices.path must not be empty when voices are enabled")
	}
	switch cfg.STT.Mode {
	case "speechmatics", "exec", "mock":
	default:
		return errors.New("stt.mode must be one of speechmatics|exec|mock")
	}
	if cfg.STT.Mode == "exec" {
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.WindowMS <= 0 {
			return errors.New("stt.window_ms must be positive when mode=exec")
		}
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.HandshakeTimeoutMS <= 0 {
		return errors.New("stt.handshake_timeout_ms must be positive")
	}
	switch cfg.Translation.Mode {
	case "minimax", "ollama", "exec", "mock":
	default:
		return errors.New("translation.mode must be one of minimax|ollama|exec|mock")
	}
	if cfg.Translation.Mode == "exec" && cfg.Translation.Command == "" {
		return errors.New("translation.command must be set when mode=exec")
	}
	if cfg.Translation.Mode == "ollama" && cfg.Translation.Endpoint == "" {
		return errors.New("translation.endpoint must be set when mode=ollama")
	}
	if cfg.Translation.MaxTokens < 0 {
		return errors.New("translation.max_tokens must be >= 0")
	}
	for _, provider := range []string{cfg.TTS.Primary, cfg.TTS.Secondary} {
		switch provider {
		case "minimax", "speechmatics", "exec", "mock":
		default:
			return fmt.Errorf("tts provider %q must be one of minimax|speechmatics|exec|mock", provider)
		}
	}
	if (cfg.TTS.Primary == "exec" || cfg.TTS.Secondary == "exec") && cfg.TTS.Exec.Command == "" {
		return errors.New("tts.exec.command must be set when an exec provider is selected")
	}
	if cfg.TTS.EventTimeout <= 0 {
		return errors.New("tts.event_timeout_ms must be positive")
	}
	switch strings.ToLower(cfg.Session.DefaultTTSProvider) {
	case "primary", "secondary", "minimax", "speechmatics":
	default:
		return errors.New("session.default_tts_provider must be one of primary|secondary")
	}
	if cfg.Session.TriggerChars <= 0 {
		return errors.New("session.trigger_chars must be positive")
	}
	if cfg.Session.PartialMinDeltaChars <= 0 {
		return errors.New("session.partial_min_delta_chars must be positive")
	}
	if cfg.Session.PartialMinIntervalMS <= 0 {
		return errors.New("session.partial_min_interval_ms must be positive")
	}
	if cfg.Session.MaxAudioFramesPerSec < 0 {
		return errors.New("session.max_audio_frames_per_sec must be >= 0")
	}
	return nil
}

// LoadEnvFile populates the process environment from a dotenv file. Variables
// already set are left untouched and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}
