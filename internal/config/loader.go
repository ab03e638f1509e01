package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pivoice/internal/intent"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram"},
	"tts": {"coqui", "piper", "elevenlabs"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "rules"},
	"vad": {"energy", "flux"},
}

// Built-in phrases used when the wake section lists none.
var (
	DefaultWakePhrases = []string{"привет ассистент", "ассистент"}
	DefaultStopPhrases = []string{"стоп", "хватит"}
)

// DefaultSQLitePath is the reminder database used when reminders.store is
// sqlite and no path is given.
const DefaultSQLitePath = "pivoice.db"

// envRef matches ${NAME} and ${NAME:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS is [Load] on an arbitrary filesystem.
func LoadFS(fs afero.Fs, path string) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${ENV} references, decodes a YAML config from r,
// fills defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${NAME} with the value of the environment variable NAME.
// ${NAME:-fallback} uses fallback when NAME is unset or empty. Unset names
// without a fallback expand to the empty string and are logged.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		name := string(m[1])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if bytes.Contains(ref, []byte(":-")) {
			return m[2]
		}
		slog.Warn("config: environment variable not set", "name", name)
		return nil
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = slices.Clone(DefaultWakePhrases)
	}
	if cfg.Wake.StopPhrases == nil {
		cfg.Wake.StopPhrases = slices.Clone(DefaultStopPhrases)
	}
	if len(cfg.Intents) == 0 {
		cfg.Intents = intent.DefaultRules()
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Reminders.Store == StoreSQLite && cfg.Reminders.Path == "" {
		cfg.Reminders.Path = DefaultSQLitePath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReloadInterval < 0 {
		errs = append(errs, errors.New("server.reload_interval must not be negative"))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 || cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, errors.New("audio.frame_size must not be negative"))
	}

	// Wake
	for i, p := range slices.Concat(cfg.Wake.Phrases, cfg.Wake.StopPhrases) {
		if p == "" {
			errs = append(errs, fmt.Errorf("wake phrase %d is empty", i))
		}
	}
	if cfg.Wake.MaxPhrase > 0 && cfg.Wake.MinPhrase > cfg.Wake.MaxPhrase {
		errs = append(errs, fmt.Errorf("wake.min_phrase %s exceeds wake.max_phrase %s", cfg.Wake.MinPhrase, cfg.Wake.MaxPhrase))
	}
	errs = append(errs, validateUnit("wake.phonetic_threshold", cfg.Wake.PhoneticThreshold))
	errs = append(errs, validateUnit("wake.fuzzy_threshold", cfg.Wake.FuzzyThreshold))
	errs = append(errs, validateVAD("wake.vad", cfg.Wake.VAD))

	// Session
	errs = append(errs, validateUnit("session.confidence_threshold", cfg.Session.ConfidenceThreshold))
	errs = append(errs, validateVAD("session.vad", cfg.Session.VAD))
	if cfg.Session.MaxUtterance > 0 && cfg.Session.SilenceTimeout > cfg.Session.MaxUtterance {
		errs = append(errs, fmt.Errorf("session.silence_timeout %s exceeds session.max_utterance %s", cfg.Session.SilenceTimeout, cfg.Session.MaxUtterance))
	}
	if s := cfg.Session.Voice.SpeedFactor; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.speed_factor %.2f is out of range [0.5, 2.0]", s))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; chat falls back to built-in replies")
	}
	for kind, entry := range map[string]ProviderEntry{
		"stt":     cfg.Providers.STT,
		"tts":     cfg.Providers.TTS,
		"llm":     cfg.Providers.LLM,
		"vad":     cfg.Providers.VAD,
		"spotter": cfg.Providers.Spotter,
	} {
		validKind := kind
		if kind == "spotter" {
			validKind = "stt"
		}
		validateProviderName(validKind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(validKind, fb.Name)
		}
	}
	if len(cfg.Providers.VAD.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.vad does not support fallbacks"))
	}

	// Intents
	names := make(map[string]int, len(cfg.Intents))
	for i, rule := range cfg.Intents {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("intents[%d]: %w", i, err))
		}
		if prev, ok := names[rule.Name]; ok && rule.Name != "" {
			errs = append(errs, fmt.Errorf("intents[%d].name %q is a duplicate of intents[%d]", i, rule.Name, prev))
		}
		names[rule.Name] = i
	}

	// Handlers
	if cfg.Weather.APIKey == "" {
		slog.Warn("weather.api_key is empty; weather requests will be answered with an error")
	}
	if cfg.News.APIKey == "" {
		slog.Warn("news.api_key is empty; news requests will be answered with an error")
	}
	if cfg.News.MaxArticles < 0 {
		errs = append(errs, errors.New("news.max_articles must not be negative"))
	}
	if cfg.Calendar.CredentialsFile != "" && cfg.Calendar.TokenFile == "" {
		errs = append(errs, errors.New("calendar.token_file is required when calendar.credentials_file is set"))
	}

	// Smart home
	sh := cfg.SmartHome
	if !sh.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("smart_home.backend %q is invalid; valid values: mqtt, gpio", sh.Backend))
	}
	if sh.Backend == SmartHomeMQTT && sh.MQTT.Broker == "" {
		errs = append(errs, errors.New("smart_home.mqtt.broker is required when backend is mqtt"))
	}
	if sh.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("smart_home.mqtt.qos %d is invalid; valid values: 0, 1, 2", sh.MQTT.QoS))
	}
	if sh.Backend == SmartHomeGPIO && len(sh.Pins) == 0 {
		errs = append(errs, errors.New("smart_home.pins is required when backend is gpio"))
	}

	// Reminders
	if !cfg.Reminders.Store.IsValid() {
		errs = append(errs, fmt.Errorf("reminders.store %q is invalid; valid values: sqlite, postgres", cfg.Reminders.Store))
	}
	if cfg.Reminders.Store == StorePostgres && cfg.Reminders.DSN == "" {
		errs = append(errs, errors.New("reminders.dsn is required when store is postgres"))
	}
	if cfg.Reminders.Store == StoreMemory {
		slog.Warn("reminders.store is not set; reminders are lost on restart")
	}

	// Dialogue
	if cfg.Dialogue.MaxHistory < 0 || cfg.Dialogue.PromptHistory < 0 {
		errs = append(errs, errors.New("dialogue history limits must not be negative"))
	}
	if cfg.Dialogue.MaxHistory > 0 && cfg.Dialogue.PromptHistory > cfg.Dialogue.MaxHistory {
		errs = append(errs, fmt.Errorf("dialogue.prompt_history %d exceeds dialogue.max_history %d", cfg.Dialogue.PromptHistory, cfg.Dialogue.MaxHistory))
	}

	return errors.Join(errs...)
}

// validateUnit rejects values outside [0, 1]. Zero means "use the default".
func validateUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)
	}
	return nil
}

func validateVAD(field string, v VADConfig) error {
	var errs []error
	if err := validateUnit(field+".speech_threshold", v.SpeechThreshold); err != nil {
		errs = append(errs, err)
	}
	if err := validateUnit(field+".silence_threshold", v.SilenceThreshold); err != nil {
		errs = append(errs, err)
	}
	if v.SpeechThreshold > 0 && v.SilenceThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("%s.silence_threshold %.2f exceeds speech_threshold %.2f", field, v.SilenceThreshold, v.SpeechThreshold))
	}
	if v.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("%s.hangover_frames must not be negative", field))
	}
	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
