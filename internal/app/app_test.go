package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/internal/app"
	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/session"
	"github.com/MrWong99/pivoice/internal/wake"
	"github.com/MrWong99/pivoice/pkg/audio"
	audiomock "github.com/MrWong99/pivoice/pkg/audio/mock"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/pivoice/pkg/provider/llm/mock"
	"github.com/MrWong99/pivoice/pkg/provider/llm/rules"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/pivoice/pkg/provider/stt/mock"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/pivoice/pkg/provider/tts/mock"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
	"github.com/MrWong99/pivoice/pkg/provider/vad/energy"
)

const waitTimeout = 2 * time.Second

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

const minimalYAML = `
providers:
  stt: {name: whisper}
  tts: {name: piper}
session:
  skip_greeting: true
`

func testProviders() (*app.Providers, *ttsmock.Provider) {
	recogniser := &sttmock.Provider{Transcript: stt.Transcript{Text: "который час", Confidence: 0.9}}
	synth := &ttsmock.Provider{}
	return &app.Providers{
		STT:     recogniser,
		Spotter: recogniser,
		TTS:     synth,
		LLM:     rules.New(),
		VAD:     energy.New(),
	}, synth
}

type testApp struct {
	app     *app.App
	source  *audiomock.Source
	speaker *audiomock.Speaker
	tts     *ttsmock.Provider
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *testApp {
	t.Helper()
	providers, synth := testProviders()
	ta := &testApp{
		source:  audiomock.NewSource(testFormat),
		speaker: &audiomock.Speaker{},
		tts:     synth,
	}
	opts = append([]app.Option{
		app.WithSource(ta.source),
		app.WithSpeaker(ta.speaker),
		app.WithIndicator(wake.NopIndicator{}),
	}, opts...)

	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	ta.app = a
	return ta
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── BuildProviders ──────────────────────────────────────────────────────────

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("piper", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return energy.New(), nil })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, `
providers:
  stt:
    name: whisper
    fallbacks: [{name: deepgram}]
  tts: {name: piper}
`)
	ps, err := app.BuildProviders(cfg, testRegistry(), nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	defer ps.Close()

	if ps.STT == nil || ps.TTS == nil || ps.LLM == nil || ps.VAD == nil {
		t.Fatalf("BuildProviders left a provider nil: %+v", ps)
	}
	if ps.Spotter != ps.STT {
		t.Error("Spotter should share the STT group when not configured")
	}
	var names []string
	for _, c := range ps.Checks {
		names = append(names, c.Name)
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("check %s: %v", c.Name, err)
		}
	}
	if !slices.Equal(names, []string{"stt", "tts"}) {
		t.Errorf("checks = %v, want [stt tts]", names)
	}

	// Without an llm entry the offline rules answer.
	resp, err := ps.LLM.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "спасибо"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content == "" {
		t.Error("rules provider returned an empty reply")
	}
}

func TestBuildProviders_LLMFallsBackToRules(t *testing.T) {
	t.Parallel()

	reg := testRegistry()
	down := &llmmock.Provider{CompleteErr: llm.ErrUnavailable}
	reg.RegisterLLM("ollama", func(config.ProviderEntry) (llm.Provider, error) { return down, nil })

	cfg := testConfig(t, minimalYAML)
	cfg.Providers.LLM = config.ProviderEntry{Name: "ollama"}

	ps, err := app.BuildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	resp, err := ps.LLM.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "расскажи сказку"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != rules.DefaultReply {
		t.Errorf("Content = %q, want %q", resp.Content, rules.DefaultReply)
	}
	if n := len(down.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1", n)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unregistered stt",
			mutate: func(c *config.Config) { c.Providers.STT.Name = "vosk" },
			want:   `stt provider "vosk"`,
		},
		{
			name: "unregistered fallback",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "rhvoice"}}
			},
			want: `tts fallback "rhvoice"`,
		},
		{
			name:   "unregistered vad",
			mutate: func(c *config.Config) { c.Providers.VAD.Name = "silero" },
			want:   `vad "silero"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, minimalYAML)
			tt.mutate(cfg)
			_, err := app.BuildProviders(cfg, testRegistry(), nil)
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("error = %v, want ErrProviderNotRegistered", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

// ─── New / Run / Shutdown ────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t, minimalYAML))
	state, err := ta.app.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != session.StateIdle {
		t.Errorf("State = %v, want %v", state, session.StateIdle)
	}
	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_InvalidTimeZone(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, minimalYAML)
	cfg.Calendar.TimeZone = "Mars/Olympus_Mons"
	providers, _ := testProviders()
	source := audiomock.NewSource(testFormat)

	_, err := app.New(context.Background(), cfg, providers,
		app.WithSource(source),
		app.WithSpeaker(&audiomock.Speaker{}),
	)
	if err == nil {
		t.Fatal("expected error for unknown time zone")
	}
	if !source.Closed() {
		t.Error("source not closed after failed New")
	}
}

type fakeStore struct {
	mu     sync.Mutex
	closed bool
}

func (*fakeStore) Save(context.Context, reminder.Reminder) error         { return nil }
func (*fakeStore) Delete(context.Context, reminder.ID) error             { return nil }
func (*fakeStore) Pending(context.Context) ([]reminder.Reminder, error) { return nil, nil }
func (*fakeStore) Ping(context.Context) error                            { return nil }

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestNew_StoreFromRegistry(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	var gotPath string
	reg := config.NewRegistry()
	reg.RegisterStore(config.StoreSQLite, func(_ context.Context, rc config.RemindersConfig) (reminder.Store, error) {
		gotPath = rc.Path
		return store, nil
	})

	cfg := testConfig(t, minimalYAML+"reminders: {store: sqlite}\n")
	ta := newTestApp(t, cfg, app.WithRegistry(reg))

	if gotPath != config.DefaultSQLitePath {
		t.Errorf("store path = %q, want %q", gotPath, config.DefaultSQLitePath)
	}
	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !store.isClosed() {
		t.Error("store not closed on shutdown")
	}
}

type fakeTrigger struct {
	started chan struct{}
	once    sync.Once
}

func (f *fakeTrigger) Run(ctx context.Context, _ func()) error {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, minimalYAML)
	cfg.Session.SkipGreeting = false
	trigger := &fakeTrigger{started: make(chan struct{})}
	ta := newTestApp(t, cfg, app.WithTrigger(trigger))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- ta.app.Run(ctx) }()

	select {
	case <-trigger.started:
	case <-time.After(waitTimeout):
		t.Fatal("button loop not started")
	}
	greeting := session.DefaultMessages().Greeting
	waitFor(t, "greeting", func() bool { return slices.Contains(ta.tts.Texts(), greeting) })

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}

	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !ta.source.Closed() {
		t.Error("source not closed")
	}
	// A second Shutdown is a no-op.
	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t, minimalYAML))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ta.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown error = %v, want context.Canceled", err)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t, minimalYAML))
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		// The scheduler is not running yet.
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

// ─── Smart home wiring ───────────────────────────────────────────────────────

type fakeHome struct {
	mu  sync.Mutex
	set map[string]bool
}

func (h *fakeHome) Set(_ context.Context, device string, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.set == nil {
		h.set = map[string]bool{}
	}
	h.set[device] = on
	return nil
}

func (h *fakeHome) State(_ context.Context, device string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	on, ok := h.set[device]
	if !ok {
		return false, smarthome.ErrStateUnknown
	}
	return on, nil
}

func TestNew_SmartHomeRegistry(t *testing.T) {
	t.Parallel()

	home := &fakeHome{}
	var created bool
	reg := config.NewRegistry()
	reg.RegisterSmartHome(config.SmartHomeMQTT, func(config.SmartHomeConfig) (smarthome.Controller, error) {
		created = true
		return home, nil
	})

	cfg := testConfig(t, minimalYAML+"smart_home:\n  backend: mqtt\n  mqtt: {broker: \"tcp://localhost:1883\"}\n")
	ta := newTestApp(t, cfg, app.WithRegistry(reg))
	defer ta.app.Shutdown(context.Background())

	if !created {
		t.Error("smart home factory not called")
	}
}
