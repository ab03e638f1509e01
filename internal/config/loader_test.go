package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/MrWong99/pivoice/internal/config"
)

const minimalProviders = `
providers:
  stt: {name: whisper}
  tts: {name: coqui}
`

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal",
			yaml: minimalProviders,
		},
		{
			name:    "missing stt and tts",
			yaml:    "server: {log_level: info}",
			wantErr: []string{"providers.stt.name is required", "providers.tts.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    minimalProviders + "server: {log_level: bananas}",
			wantErr: []string{`server.log_level "bananas" is invalid`},
		},
		{
			name:    "three channels",
			yaml:    minimalProviders + "audio: {channels: 3}",
			wantErr: []string{"audio.channels 3 is invalid"},
		},
		{
			name:    "confidence above one",
			yaml:    minimalProviders + "session: {confidence_threshold: 1.5}",
			wantErr: []string{"session.confidence_threshold 1.50 is out of range"},
		},
		{
			name:    "silence exceeds utterance",
			yaml:    minimalProviders + "session: {silence_timeout: 5s, max_utterance: 2s}",
			wantErr: []string{"session.silence_timeout 5s exceeds session.max_utterance 2s"},
		},
		{
			name:    "vad thresholds inverted",
			yaml:    minimalProviders + "wake: {vad: {speech_threshold: 0.3, silence_threshold: 0.5}}",
			wantErr: []string{"wake.vad.silence_threshold 0.50 exceeds speech_threshold 0.30"},
		},
		{
			name:    "min phrase above max",
			yaml:    minimalProviders + "wake: {min_phrase: 3s, max_phrase: 1s}",
			wantErr: []string{"wake.min_phrase 3s exceeds wake.max_phrase 1s"},
		},
		{
			name:    "speed factor",
			yaml:    minimalProviders + "session: {voice: {speed_factor: 3}}",
			wantErr: []string{"session.voice.speed_factor 3.00 is out of range"},
		},
		{
			name: "unnamed fallback",
			yaml: `
providers:
  stt: {name: whisper, fallbacks: [{model: base}]}
  tts: {name: coqui}
`,
			wantErr: []string{"providers.stt.fallbacks[0].name is required"},
		},
		{
			name: "duplicate intent names",
			yaml: minimalProviders + `
intents:
  - {name: a, tag: weather, keywords: [погода]}
  - {name: a, tag: news, keywords: [новости]}
`,
			wantErr: []string{`intents[1].name "a" is a duplicate of intents[0]`},
		},
		{
			name: "invalid intent",
			yaml: minimalProviders + `
intents:
  - {name: broken, tag: horoscope}
`,
			wantErr: []string{"intents[0]"},
		},
		{
			name:    "mqtt without broker",
			yaml:    minimalProviders + "smart_home: {backend: mqtt}",
			wantErr: []string{"smart_home.mqtt.broker is required"},
		},
		{
			name:    "gpio without pins",
			yaml:    minimalProviders + "smart_home: {backend: gpio}",
			wantErr: []string{"smart_home.pins is required"},
		},
		{
			name:    "unknown backend",
			yaml:    minimalProviders + "smart_home: {backend: zigbee}",
			wantErr: []string{`smart_home.backend "zigbee" is invalid`},
		},
		{
			name:    "postgres without dsn",
			yaml:    minimalProviders + "reminders: {store: postgres}",
			wantErr: []string{"reminders.dsn is required"},
		},
		{
			name:    "calendar without token file",
			yaml:    minimalProviders + "calendar: {credentials_file: creds.json}",
			wantErr: []string{"calendar.token_file is required"},
		},
		{
			name:    "prompt history above max",
			yaml:    minimalProviders + "dialogue: {max_history: 4, prompt_history: 6}",
			wantErr: []string{"dialogue.prompt_history 6 exceeds dialogue.max_history 4"},
		},
		{
			name: "collects every problem",
			yaml: `
server: {log_level: loud}
smart_home: {backend: mqtt}
`,
			wantErr: []string{"log_level", "providers.stt.name", "providers.tts.name", "smart_home.mqtt.broker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error = %v, want it to contain %q", err, want)
				}
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadFS(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/pivoice.yaml", []byte(minimalProviders), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFS(fs, "/etc/pivoice.yaml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt = %q, want whisper", cfg.Providers.STT.Name)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Providers.STT.Name != "whisper" || len(cfg.Providers.STT.Fallbacks) != 1 {
		t.Errorf("stt = %+v, want whisper with one fallback", cfg.Providers.STT)
	}
	if cfg.Reminders.Store != config.StoreSQLite {
		t.Errorf("reminders.store = %q, want sqlite", cfg.Reminders.Store)
	}
	if cfg.SmartHome.Backend != config.SmartHomeNone {
		t.Errorf("smart_home.backend = %q, want disabled", cfg.SmartHome.Backend)
	}
	if len(cfg.Intents) == 0 {
		t.Error("intents empty, want the built-in table")
	}
}
