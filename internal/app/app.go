// Package app wires all pivoice subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the session and its supporting loops, and
// Shutdown releases devices and stores in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithSpeaker, WithStore, ...). When an option is not provided,
// New opens the real device or backend named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/handler/calendar"
	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/health"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/session"
	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
	"github.com/MrWong99/pivoice/internal/wake"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/audio/mixer"
	"github.com/MrWong99/pivoice/pkg/audio/portaudio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

const (
	// pendingInterval is how often the pending reminder gauge is refreshed.
	pendingInterval = 5 * time.Second

	defaultFrameSize = 30 * time.Millisecond
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	registry  *config.Registry
	metrics   *observe.Metrics
	level     *slog.LevelVar
	fs        afero.Fs
	now       func() time.Time

	// Devices and backends, injectable.
	source    audio.Source
	speaker   audio.Speaker
	indicator wake.Indicator
	trigger   Trigger
	store     reminder.Store
	home      smarthome.Controller
	cal       calendar.Calendar

	// Built in New.
	detector   *wake.Detector
	router     *intent.Router
	dispatcher *handler.Dispatcher
	scheduler  *reminder.Scheduler
	dialogue   *session.Dialogue
	controller *session.Controller
	health     *health.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Trigger delivers button presses. [wake.Button] is the production
// implementation.
type Trigger interface {
	Run(ctx context.Context, onPress func()) error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the microphone instead of opening a PortAudio stream.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSpeaker injects the speaker instead of a mixer on a PortAudio stream.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithIndicator injects the status indicator instead of the GPIO LED.
func WithIndicator(i wake.Indicator) Option {
	return func(a *App) { a.indicator = i }
}

// WithTrigger injects the push button.
func WithTrigger(t Trigger) Option {
	return func(a *App) { a.trigger = t }
}

// WithStore injects the reminder store instead of creating one via the
// registry.
func WithStore(s reminder.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSmartHome injects the device controller.
func WithSmartHome(c smarthome.Controller) Option {
	return func(a *App) { a.home = c }
}

// WithCalendar injects the calendar backend instead of Google Calendar.
func WithCalendar(c calendar.Calendar) Option {
	return func(a *App) { a.cal = c }
}

// WithRegistry sets the registry used for the smart home controller and the
// reminder store.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics replaces the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel sets the level variable adjusted on hot reload.
func WithLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// WithFs sets the filesystem receiving utterance recordings.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithClock overrides the clock of the router, scheduler and handlers.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		fs:        afero.NewOsFs(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	// ── 1. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(ctx); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Reminders ─────────────────────────────────────────────────────
	if err := a.initReminders(ctx); err != nil {
		return nil, fmt.Errorf("app: init reminders: %w", err)
	}

	// ── 3. Routing and handlers ──────────────────────────────────────────
	if a.router, err = intent.NewRouter(cfg.Intents, intent.WithClock(a.now)); err != nil {
		return nil, fmt.Errorf("app: init router: %w", err)
	}
	if err := a.initHandlers(ctx); err != nil {
		return nil, fmt.Errorf("app: init handlers: %w", err)
	}

	// ── 4. Wake detection and button ─────────────────────────────────────
	if err := a.initWake(); err != nil {
		return nil, fmt.Errorf("app: init wake: %w", err)
	}

	// ── 5. Session ───────────────────────────────────────────────────────
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 6. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudio opens the microphone and the speaker unless injected.
func (a *App) initAudio(ctx context.Context) error {
	ac := a.cfg.Audio
	if a.source == nil || a.speaker == nil {
		terminate, err := portaudio.Init()
		if err != nil {
			return err
		}
		a.closers = append(a.closers, terminate)
	}

	if a.source == nil {
		in, err := portaudio.OpenInput(ctx, portaudio.Config{
			Device:       ac.InputDevice,
			SampleRate:   ac.SampleRate,
			Channels:     ac.Channels,
			FrameSize:    ac.FrameSize,
			Buffer:       ac.Buffer,
			OpenRetries:  ac.OpenRetries,
			RetryBackoff: ac.RetryBackoff,
		})
		if err != nil {
			return err
		}
		a.source = in
	}
	a.closers = append(a.closers, a.source.Close)

	if a.speaker == nil {
		out, err := portaudio.OpenOutput(ctx, portaudio.Config{
			Device:       ac.OutputDevice,
			SampleRate:   ac.OutputSampleRate,
			Channels:     1,
			OpenRetries:  ac.OpenRetries,
			RetryBackoff: ac.RetryBackoff,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, out.Close)
		var opts []mixer.Option
		opts = append(opts, mixer.WithFormat(out.Format()))
		if ac.Gap > 0 {
			opts = append(opts, mixer.WithGap(ac.Gap))
		}
		a.speaker = mixer.New(out.Write, opts...)
	}
	a.closers = append(a.closers, a.speaker.Close)

	slog.Info("audio ready", "input", a.source.Format().String())
	return nil
}

// initReminders opens the configured store and creates the scheduler.
func (a *App) initReminders(ctx context.Context) error {
	if a.store == nil && a.cfg.Reminders.Store != config.StoreMemory {
		st, err := a.registry.CreateStore(ctx, a.cfg.Reminders)
		if err != nil {
			return err
		}
		a.store = st
		if c, ok := st.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		slog.Info("reminder store opened", "store", a.cfg.Reminders.Store)
	}

	opts := []reminder.Option{reminder.WithClock(a.now)}
	if a.store != nil {
		opts = append(opts, reminder.WithStore(a.store))
	}
	a.scheduler = reminder.NewScheduler(opts...)
	return nil
}

// initWake builds the phrase detector and opens the button and LED pins.
func (a *App) initWake() error {
	wc := a.cfg.Wake
	format := a.source.Format()

	var matchOpts []phonetic.Option
	if wc.PhoneticThreshold > 0 {
		matchOpts = append(matchOpts, phonetic.WithPhoneticThreshold(wc.PhoneticThreshold))
	}
	if wc.FuzzyThreshold > 0 {
		matchOpts = append(matchOpts, phonetic.WithFuzzyThreshold(wc.FuzzyThreshold))
	}

	det, err := wake.New(wake.Config{
		WakePhrases: wc.Phrases,
		StopPhrases: wc.StopPhrases,
		MinPhrase:   wc.MinPhrase,
		MaxPhrase:   wc.MaxPhrase,
		PreRoll:     wc.PreRoll,
		SpotTimeout: wc.SpotTimeout,
		VAD:         vadConfig(format, a.cfg.Audio.FrameSize, wc.VAD),
	},
		a.providers.VAD,
		&wake.STTSpotter{Provider: a.providers.Spotter},
		wake.WithMatcher(phonetic.New(matchOpts...)),
		wake.WithObserver(func(text string, det wake.Detection) {
			slog.Debug("wake: spotted", "text", text, "kind", det.Kind, "confidence", det.Confidence)
		}),
	)
	if err != nil {
		return err
	}
	a.detector = det
	a.closers = append(a.closers, det.Close)

	bc := a.cfg.Button
	if a.trigger == nil && bc.Pin != "" {
		var opts []wake.ButtonOption
		if bc.Bounce > 0 {
			opts = append(opts, wake.WithBounce(bc.Bounce))
		}
		btn, err := wake.OpenButton(bc.Pin, opts...)
		if err != nil {
			return err
		}
		a.trigger = btn
	}
	if a.indicator == nil && bc.LEDPin != "" {
		led, err := wake.OpenLED(bc.LEDPin)
		if err != nil {
			return err
		}
		a.indicator = led
		a.closers = append(a.closers, led.Close)
	}
	return nil
}

// initSession creates the dialogue and the controller.
func (a *App) initSession() error {
	dc := a.cfg.Dialogue
	dcfg := session.DialogueConfig{
		MaxMessages:    dc.MaxHistory,
		PromptMessages: dc.PromptHistory,
	}
	if dc.Summarise {
		dcfg.Summariser = session.NewLLMSummariser(a.providers.LLM)
	}
	a.dialogue = session.NewDialogue(dcfg)

	var recorder session.UtteranceRecorder
	if dir := a.cfg.Audio.RecordingsDir; dir != "" {
		rec, err := audio.NewRecorder(a.fs, dir)
		if err != nil {
			return err
		}
		recorder = rec
	}

	sc := a.cfg.Session
	ctrl, err := session.New(session.Config{
		SilenceTimeout:      sc.SilenceTimeout,
		MaxUtterance:        sc.MaxUtterance,
		PreRoll:             sc.PreRoll,
		ConfidenceThreshold: sc.ConfidenceThreshold,
		ASRTimeout:          a.cfg.Timeouts.ASR,
		TTSTimeout:          a.cfg.Timeouts.TTS,
		DrainTimeout:        sc.DrainTimeout,
		Voice: tts.VoiceProfile{
			ID:          sc.Voice.ID,
			Name:        sc.Voice.Name,
			SpeedFactor: sc.Voice.SpeedFactor,
		},
		VAD:      vadConfig(a.source.Format(), a.cfg.Audio.FrameSize, sc.VAD),
		Messages: messages(a.cfg),
	}, session.Deps{
		Source:     a.source,
		Speaker:    a.speaker,
		Detector:   a.detector,
		VAD:        a.providers.VAD,
		STT:        a.providers.STT,
		TTS:        a.providers.TTS,
		Router:     a.router,
		Dispatcher: a.dispatcher,
		Reminders:  a.scheduler.Fired(),
		Indicator:  a.indicator,
		Recorder:   recorder,
		Dialogue:   a.dialogue,
	}, session.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.controller = ctrl
	return nil
}

// initHealth registers the readiness checks.
func (a *App) initHealth() {
	a.health = health.New(
		health.Flag("audio", a.sessionRunning, "microphone session stopped"),
		health.Flag("reminders", a.scheduler.Ready, "scheduler not running"),
	)
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		a.health.Add(health.Checker{Name: "reminder_store", Check: p.Ping})
	}
	a.health.Add(a.providers.Checks...)
	a.health.SetState(func() string { return a.controller.State().String() })
}

func (a *App) sessionRunning() bool {
	select {
	case <-a.controller.Done():
		return false
	default:
		return true
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the session, the reminder scheduler, the button, and the HTTP
// endpoint, and blocks until the session has stopped. Cancelling ctx starts
// the session drain; the supporting loops are stopped once the drain is
// over. Run returns the first error of any loop.
func (a *App) Run(ctx context.Context) error {
	svcCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServices()
	g, gctx := errgroup.WithContext(svcCtx)

	g.Go(func() error {
		defer stopServices()
		return a.controller.Run(ctx)
	})
	g.Go(func() error {
		// A failing support loop stops the session as well.
		<-gctx.Done()
		a.controller.Shutdown()
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		a.trackPending(gctx)
		return nil
	})
	if a.trigger != nil {
		g.Go(func() error {
			return a.trigger.Run(gctx, func() { a.controller.Trigger(session.TriggerButton) })
		})
	}
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error {
			return a.serve(gctx, addr)
		})
	}

	slog.Info("app running", "wake_phrases", a.cfg.Wake.Phrases)
	return g.Wait()
}

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// serve runs the HTTP endpoint until ctx is done.
func (a *App) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("http listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	return nil
}

// trackPending keeps the pending reminder gauge in line with the scheduler.
func (a *App) trackPending(ctx context.Context) {
	ticker := time.NewTicker(pendingInterval)
	defer ticker.Stop()

	var last int64
	for {
		n := int64(a.scheduler.Len())
		if n != last {
			a.metrics.PendingReminders.Add(context.Background(), n-last)
			last = n
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of a changed config: log level,
// intent table and wake phrases. It is the [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(Level(d.NewLogLevel))
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.IntentsChanged {
		if err := a.router.Swap(new.Intents); err != nil {
			slog.Warn("config: keeping previous intent table", "err", err)
		} else {
			slog.Info("config: intent table replaced", "rules", len(new.Intents))
		}
	}
	if d.PhrasesChanged {
		a.detector.SetPhrases(new.Wake.Phrases, new.Wake.StopPhrases)
		slog.Info("config: wake phrases replaced", "wake", new.Wake.Phrases, "stop", new.Wake.StopPhrases)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.dialogue.Wait()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Level converts a config log level to a slog level. Unknown values map to
// info.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// vadConfig builds the VAD session parameters for frames of format.
func vadConfig(format audio.Format, frame time.Duration, vc config.VADConfig) vad.Config {
	if frame <= 0 {
		frame = defaultFrameSize
	}
	out := vad.Config{
		SampleRate:       format.SampleRate,
		FrameSizeMs:      int(frame / time.Millisecond),
		SpeechThreshold:  vc.SpeechThreshold,
		SilenceThreshold: vc.SilenceThreshold,
		HangoverFrames:   vc.HangoverFrames,
	}
	if out.SpeechThreshold == 0 {
		out.SpeechThreshold = 0.5
	}
	if out.SilenceThreshold == 0 {
		out.SilenceThreshold = min(0.35, out.SpeechThreshold)
	}
	return out
}

// messages merges the configured phrases over the defaults.
func messages(cfg *config.Config) session.Messages {
	def := session.DefaultMessages()
	mc := cfg.Messages
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	m := session.Messages{
		Greeting:          pick(mc.Greeting, def.Greeting),
		Ack:               pick(mc.Ack, def.Ack),
		NotUnderstood:     pick(mc.NotUnderstood, def.NotUnderstood),
		Invalid:           pick(mc.Invalid, def.Invalid),
		RecognitionFailed: pick(mc.RecognitionFailed, def.RecognitionFailed),
		Reminder:          pick(mc.Reminder, def.Reminder),
	}
	if cfg.Session.SkipGreeting {
		m.Greeting = ""
	}
	if !cfg.Session.Acknowledge {
		m.Ack = ""
	}
	return m
}

// errNoController guards methods used before New succeeded.
var errNoController = errors.New("app: not initialised")

// State returns the current session state.
func (a *App) State() (session.State, error) {
	if a.controller == nil {
		return 0, errNoController
	}
	return a.controller.State(), nil
}
