// Package config provides the configuration schema, loader, provider registry
// and file watcher for the pivoice assistant.
package config

import (
	"time"

	"github.com/MrWong99/pivoice/internal/intent"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SmartHomeBackend selects how device commands leave the assistant.
type SmartHomeBackend string

const (
	SmartHomeNone SmartHomeBackend = ""
	SmartHomeMQTT SmartHomeBackend = "mqtt"
	SmartHomeGPIO SmartHomeBackend = "gpio"
)

// IsValid reports whether b is a recognised backend.
func (b SmartHomeBackend) IsValid() bool {
	switch b {
	case SmartHomeNone, SmartHomeMQTT, SmartHomeGPIO:
		return true
	}
	return false
}

// ReminderStore selects the reminder persistence backend.
type ReminderStore string

const (
	StoreMemory   ReminderStore = ""
	StoreSQLite   ReminderStore = "sqlite"
	StorePostgres ReminderStore = "postgres"
)

// IsValid reports whether s is a recognised store.
func (s ReminderStore) IsValid() bool {
	switch s {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Session   SessionConfig   `yaml:"session"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Providers ProvidersConfig `yaml:"providers"`

	// Intents replaces the built-in routing table when non-empty. Rules are
	// evaluated in order.
	Intents []intent.Rule `yaml:"intents"`

	Weather   WeatherConfig   `yaml:"weather"`
	News      NewsConfig      `yaml:"news"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	SmartHome SmartHomeConfig `yaml:"smart_home"`
	Reminders RemindersConfig `yaml:"reminders"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Button    ButtonConfig    `yaml:"button"`
	Messages  MessagesConfig  `yaml:"messages"`
}

// ServerConfig holds the HTTP endpoint (health and metrics) and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ReloadInterval is the config file polling interval. Zero disables
	// hot reload.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AudioConfig selects the sound devices.
type AudioConfig struct {
	// InputDevice and OutputDevice are case-insensitive substrings of the
	// PortAudio device names. Empty selects the default device.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	SampleRate       int           `yaml:"sample_rate"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	Channels         int           `yaml:"channels"`
	FrameSize        time.Duration `yaml:"frame_size"`
	Buffer           int           `yaml:"buffer"`
	OpenRetries      int           `yaml:"open_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`

	// Gap is the silence inserted between queued speech segments.
	Gap time.Duration `yaml:"gap"`

	// RecordingsDir, when set, receives a WAV file per captured utterance.
	RecordingsDir string `yaml:"recordings_dir"`
}

// VADConfig holds the voice activity thresholds shared by wake detection and
// endpointing.
type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	HangoverFrames   int     `yaml:"hangover_frames"`
}

// WakeConfig configures the wake and stop phrase detector.
type WakeConfig struct {
	Phrases     []string      `yaml:"phrases"`
	StopPhrases []string      `yaml:"stop_phrases"`
	MinPhrase   time.Duration `yaml:"min_phrase"`
	MaxPhrase   time.Duration `yaml:"max_phrase"`
	PreRoll     time.Duration `yaml:"pre_roll"`
	SpotTimeout time.Duration `yaml:"spot_timeout"`

	// PhoneticThreshold and FuzzyThreshold tune phrase matching (0..1).
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`

	VAD VADConfig `yaml:"vad"`
}

// SessionConfig configures the command cycle.
type SessionConfig struct {
	SilenceTimeout      time.Duration `yaml:"silence_timeout"`
	MaxUtterance        time.Duration `yaml:"max_utterance"`
	PreRoll             time.Duration `yaml:"pre_roll"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`

	// SkipGreeting suppresses the startup greeting.
	SkipGreeting bool `yaml:"skip_greeting"`

	// Acknowledge plays a short cue when capture starts.
	Acknowledge bool `yaml:"acknowledge"`

	Voice VoiceConfig `yaml:"voice"`
	VAD   VADConfig   `yaml:"vad"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	SpeedFactor float64 `yaml:"speed_factor"`
}

// TimeoutsConfig bounds backend calls.
type TimeoutsConfig struct {
	ASR     time.Duration `yaml:"asr"`
	TTS     time.Duration `yaml:"tts"`
	LLM     time.Duration `yaml:"llm"`
	Handler time.Duration `yaml:"handler"`
}

// ProvidersConfig selects a backend per provider kind.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`
	VAD ProviderEntry `yaml:"vad"`

	// Spotter is the recogniser used for wake phrase spotting. When empty
	// the STT provider is reused.
	Spotter ProviderEntry `yaml:"spotter"`
}

// ProviderEntry names a provider and carries its settings. Fallbacks are
// tried in order when the primary fails or its circuit is open.
type ProviderEntry struct {
	Name      string          `yaml:"name"`
	APIKey    string          `yaml:"api_key"`
	BaseURL   string          `yaml:"base_url"`
	Model     string          `yaml:"model"`
	Options   map[string]any  `yaml:"options"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// WeatherConfig configures the OpenWeatherMap handler.
type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	City    string `yaml:"city"`
	BaseURL string `yaml:"base_url"`
}

// NewsConfig configures the NewsAPI handler.
type NewsConfig struct {
	APIKey      string `yaml:"api_key"`
	Country     string `yaml:"country"`
	MaxArticles int    `yaml:"max_articles"`
	BaseURL     string `yaml:"base_url"`
}

// CalendarConfig configures the Google Calendar handler. The handler is
// disabled unless CredentialsFile is set.
type CalendarConfig struct {
	CredentialsFile string        `yaml:"credentials_file"`
	TokenFile       string        `yaml:"token_file"`
	CalendarID      string        `yaml:"calendar_id"`
	TimeZone        string        `yaml:"time_zone"`
	EventDuration   time.Duration `yaml:"event_duration"`
}

// SmartHomeConfig configures device control.
type SmartHomeConfig struct {
	Backend SmartHomeBackend `yaml:"backend"`

	// Devices lists the spoken device names recognised by the handler.
	// For GPIO the names are the keys of Pins.
	Devices []string `yaml:"devices"`

	MQTT MQTTConfig `yaml:"mqtt"`

	// Pins maps a device name to a GPIO pin name ("GPIO17").
	Pins map[string]string `yaml:"pins"`
}

// MQTTConfig is the broker connection for the MQTT backend.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RemindersConfig selects reminder persistence.
type RemindersConfig struct {
	Store ReminderStore `yaml:"store"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// ListLimit caps how many reminders are read out at once.
	ListLimit int `yaml:"list_limit"`
}

// DialogueConfig configures the chat handler and its history.
type DialogueConfig struct {
	SystemPrompt  string  `yaml:"system_prompt"`
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxHistory    int     `yaml:"max_history"`
	PromptHistory int     `yaml:"prompt_history"`

	// Summarise folds dropped turns into a running summary using the LLM.
	Summarise bool `yaml:"summarise"`
}

// ButtonConfig configures the optional push button and status LED.
type ButtonConfig struct {
	Pin    string        `yaml:"pin"`
	Bounce time.Duration `yaml:"bounce"`
	LEDPin string        `yaml:"led_pin"`
}

// MessagesConfig overrides the spoken phrases. Empty fields keep the
// built-in Russian text.
type MessagesConfig struct {
	Greeting          string `yaml:"greeting"`
	Ack               string `yaml:"ack"`
	NotUnderstood     string `yaml:"not_understood"`
	Invalid           string `yaml:"invalid"`
	RecognitionFailed string `yaml:"recognition_failed"`
	Reminder          string `yaml:"reminder"`
}
