package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/session"
	"github.com/MrWong99/pivoice/pkg/audio"
	audiomock "github.com/MrWong99/pivoice/pkg/audio/mock"
	"github.com/MrWong99/pivoice/pkg/provider/llm/rules"
	sttmock "github.com/MrWong99/pivoice/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/pivoice/pkg/provider/tts/mock"
	"github.com/MrWong99/pivoice/pkg/provider/vad/energy"
)

const reloadYAML = `
server:
  log_level: info
providers:
  stt: {name: whisper}
  tts: {name: piper}
session:
  skip_greeting: true
`

func newReloadApp(t *testing.T) (*App, *config.Config, *slog.LevelVar) {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(reloadYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	recogniser := &sttmock.Provider{}
	level := new(slog.LevelVar)
	a, err := New(context.Background(), cfg, &Providers{
		STT:     recogniser,
		Spotter: recogniser,
		TTS:     &ttsmock.Provider{},
		LLM:     rules.New(),
		VAD:     energy.New(),
	},
		WithSource(audiomock.NewSource(audio.Format{SampleRate: 16000, Channels: 1})),
		WithSpeaker(&audiomock.Speaker{}),
		WithLevel(level),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, cfg, level
}

func TestReload_LogLevel(t *testing.T) {
	t.Parallel()

	a, old, level := newReloadApp(t)
	next := *old
	next.Server.LogLevel = config.LogDebug

	a.Reload(old, &next)
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want %v", got, slog.LevelDebug)
	}
}

func TestReload_Intents(t *testing.T) {
	t.Parallel()

	a, old, _ := newReloadApp(t)
	if got := a.router.RouteText("дай сводку").Tag; got != intent.TagChat {
		t.Fatalf("before reload: tag = %q, want %q", got, intent.TagChat)
	}

	next := *old
	next.Intents = append([]intent.Rule{{Name: "digest", Tag: intent.TagNews, Keywords: []string{"сводку"}}}, old.Intents...)
	a.Reload(old, &next)

	if got := a.router.RouteText("дай сводку").Tag; got != intent.TagNews {
		t.Errorf("after reload: tag = %q, want %q", got, intent.TagNews)
	}

	// A broken table keeps the installed one.
	broken := next
	broken.Intents = []intent.Rule{{Name: "bad", Tag: intent.TagNews, Pattern: "("}}
	a.Reload(&next, &broken)
	if got := a.router.RouteText("дай сводку").Tag; got != intent.TagNews {
		t.Errorf("after broken reload: tag = %q, want %q", got, intent.TagNews)
	}
}

func TestReload_Phrases(t *testing.T) {
	t.Parallel()

	a, old, _ := newReloadApp(t)
	next := *old
	next.Wake.Phrases = []string{"компьютер"}
	next.Wake.StopPhrases = []string{"тихо"}
	a.Reload(old, &next)

	if det := a.detector.Classify("компьютер"); det.Phrase != "компьютер" {
		t.Errorf("Classify(компьютер) phrase = %q, want компьютер", det.Phrase)
	}
	if det := a.detector.Classify("тихо"); det.Phrase != "тихо" {
		t.Errorf("Classify(тихо) phrase = %q, want тихо", det.Phrase)
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := Level(tt.in); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	def := session.DefaultMessages()
	tests := []struct {
		name string
		cfg  config.Config
		want session.Messages
	}{
		{
			name: "defaults without ack",
			want: session.Messages{
				Greeting:          def.Greeting,
				NotUnderstood:     def.NotUnderstood,
				Invalid:           def.Invalid,
				RecognitionFailed: def.RecognitionFailed,
				Reminder:          def.Reminder,
			},
		},
		{
			name: "override and acknowledge",
			cfg: config.Config{
				Session:  config.SessionConfig{Acknowledge: true, SkipGreeting: true},
				Messages: config.MessagesConfig{NotUnderstood: "Что?"},
			},
			want: session.Messages{
				Ack:               def.Ack,
				NotUnderstood:     "Что?",
				Invalid:           def.Invalid,
				RecognitionFailed: def.RecognitionFailed,
				Reminder:          def.Reminder,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := messages(&tt.cfg); got != tt.want {
				t.Errorf("messages() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
