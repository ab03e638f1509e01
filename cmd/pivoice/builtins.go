package main

import (
	"context"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/handler/smarthome/gpio"
	"github.com/MrWong99/pivoice/internal/handler/smarthome/mqtt"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/reminder/pgstore"
	"github.com/MrWong99/pivoice/internal/reminder/sqlitestore"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/anyllm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/openai"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/stt/deepgram"
	"github.com/MrWong99/pivoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/pivoice/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/pivoice/pkg/provider/tts/piper"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
	"github.com/MrWong99/pivoice/pkg/provider/vad/energy"
	"github.com/MrWong99/pivoice/pkg/provider/vad/flux"
)

// defaultLanguage is passed to recognisers and synthesisers that take one.
const defaultLanguage = "ru"

// registerBuiltins wires all built-in factories into reg. The "rules" LLM is
// not registered here; [app.BuildProviders] always provides it.
func registerBuiltins(reg *config.Registry) {
	registerLLMs(reg)
	registerSTT(reg)
	registerTTS(reg)
	registerVAD(reg)
	registerBackends(reg)

	for _, kind := range []string{"stt", "tts", "llm", "vad", "smarthome", "reminder_store"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── LLM ───────────────────────────────────────────────────────────────────────

func registerLLMs(reg *config.Registry) {
	// openai also serves any OpenAI-compatible local server via base_url.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm backend takes an optional APIKey and BaseURL.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			slog.Debug("any-llm backend", "name", providerName, "local", p.Local())
			return p, nil
		})
	}
}

// ── STT ───────────────────────────────────────────────────────────────────────

func registerSTT(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(optStringOr(entry.Options, "language", defaultLanguage))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithLanguage(optStringOr(entry.Options, "language", defaultLanguage))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeLanguage(optStringOr(entry.Options, "language", defaultLanguage))}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})
}

// ── TTS ───────────────────────────────────────────────────────────────────────

func registerTTS(reg *config.Registry) {
	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if bin := optString(entry.Options, "binary"); bin != "" {
			opts = append(opts, piper.WithBinary(bin))
		}
		if v := optFloat(entry.Options, "length_scale"); v > 0 {
			opts = append(opts, piper.WithLengthScale(v))
		}
		if v := optFloat(entry.Options, "noise_scale"); v > 0 {
			opts = append(opts, piper.WithNoiseScale(v))
		}
		if v := optFloat(entry.Options, "noise_w"); v > 0 {
			opts = append(opts, piper.WithNoiseW(v))
		}
		if id := optInt(entry.Options, "speaker"); id > 0 {
			opts = append(opts, piper.WithSpeaker(id))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithLanguage(optStringOr(entry.Options, "language", defaultLanguage))}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// ── VAD ───────────────────────────────────────────────────────────────────────

func registerVAD(reg *config.Registry) {
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(energy.WithReference(optFloat(entry.Options, "reference"))), nil
	})
	reg.RegisterVAD("flux", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []flux.Option
		if r := optFloat(entry.Options, "onset_ratio"); r > 0 {
			opts = append(opts, flux.WithOnsetRatio(r))
		}
		if level := optFloat(entry.Options, "min_energy"); level > 0 {
			opts = append(opts, flux.WithMinEnergy(level))
		}
		return flux.New(opts...), nil
	})
}

// ── Smart home and reminder stores ────────────────────────────────────────────

func registerBackends(reg *config.Registry) {
	reg.RegisterSmartHome(config.SmartHomeMQTT, func(sc config.SmartHomeConfig) (smarthome.Controller, error) {
		mc := sc.MQTT
		return mqtt.Connect(mqtt.Config{
			Broker:   mc.Broker,
			ClientID: mc.ClientID,
			Username: mc.Username,
			Password: mc.Password,
			Prefix:   mc.Prefix,
			QoS:      mc.QoS,
			Timeout:  mc.Timeout,
		})
	})
	reg.RegisterSmartHome(config.SmartHomeGPIO, func(sc config.SmartHomeConfig) (smarthome.Controller, error) {
		return gpio.Open(sc.Pins)
	})

	reg.RegisterStore(config.StoreSQLite, func(ctx context.Context, rc config.RemindersConfig) (reminder.Store, error) {
		return sqlitestore.Open(ctx, rc.Path)
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, rc config.RemindersConfig) (reminder.Store, error) {
		return pgstore.Connect(ctx, rc.DSN)
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optStringOr(opts map[string]any, key, def string) string {
	if s := optString(opts, key); s != "" {
		return s
	}
	return def
}

// optFloat accepts any YAML number.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses strings like "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
