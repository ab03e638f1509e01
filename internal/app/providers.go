package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/health"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/resilience"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/rules"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

// Providers holds the backends the assistant talks to. STT, TTS and LLM are
// fallback groups built from the config; Spotter may share the STT group.
type Providers struct {
	STT     stt.Provider
	Spotter stt.Provider
	TTS     tts.Provider
	LLM     llm.Provider
	VAD     vad.Engine

	// Checks report whether each fallback group still has a usable backend.
	Checks []health.Checker

	// Closers release backends holding local resources (native models).
	Closers []func() error
}

// Close releases every backend in Closers.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.Closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates the configured backends through reg. Each of
// STT, TTS and LLM is wrapped in a circuit-breaking fallback group whose
// attempts are recorded in m. The LLM group always ends with the offline
// rule-based provider.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (_ *Providers, err error) {
	ps := &Providers{}
	defer func() {
		if err != nil {
			ps.Close()
		}
	}()

	// STT
	sttGroup, err := buildGroup(ps, m, "stt", cfg.Providers.STT, reg.CreateSTT,
		func(p stt.Provider, name string, fc resilience.FallbackConfig) *resilience.STTFallback {
			return resilience.NewSTTFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	ps.STT = sttGroup
	ps.Checks = append(ps.Checks, health.Flag("stt", sttGroup.Healthy, "every recogniser circuit is open"))

	ps.Spotter = ps.STT
	if cfg.Providers.Spotter.Name != "" {
		spotter, err := buildGroup(ps, m, "spotter", cfg.Providers.Spotter, reg.CreateSTT,
			func(p stt.Provider, name string, fc resilience.FallbackConfig) *resilience.STTFallback {
				return resilience.NewSTTFallback(p, name, fc)
			})
		if err != nil {
			return nil, err
		}
		ps.Spotter = spotter
	}

	// TTS
	ttsGroup, err := buildGroup(ps, m, "tts", cfg.Providers.TTS, reg.CreateTTS,
		func(p tts.Provider, name string, fc resilience.FallbackConfig) *resilience.TTSFallback {
			return resilience.NewTTSFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsGroup
	ps.Checks = append(ps.Checks, health.Flag("tts", ttsGroup.Healthy, "every synthesiser circuit is open"))

	// LLM
	llmEntry := cfg.Providers.LLM
	if llmEntry.Name == "" {
		llmEntry.Name = "rules"
	}
	create := func(e config.ProviderEntry) (llm.Provider, error) {
		if e.Name == "rules" {
			return rules.New(), nil
		}
		return reg.CreateLLM(e)
	}
	llmGroup, err := buildGroup(ps, m, "llm", llmEntry, create,
		func(p llm.Provider, name string, fc resilience.FallbackConfig) *resilience.LLMFallback {
			return resilience.NewLLMFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	if !endsWithRules(llmEntry) {
		llmGroup.AddFallback("rules", rules.New())
	}
	ps.LLM = llmGroup

	// VAD
	ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	return ps, nil
}

// group is the part of the resilience wrappers buildGroup needs.
type group[T any] interface {
	AddFallback(name string, p T)
}

// buildGroup creates the primary and every fallback of entry and wires them
// into a fallback group made by wrap.
func buildGroup[T any, G group[T]](
	ps *Providers,
	m *observe.Metrics,
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	wrap func(T, string, resilience.FallbackConfig) G,
) (G, error) {
	var zero G

	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	trackCloser(ps, primary)
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)

	g := wrap(primary, entry.Name, resilience.FallbackConfig{
		Breaker:  resilience.BreakerConfig{OnStateChange: recordBreaker(m, kind)},
		OnResult: recordAttempt(m, kind),
	})
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("app: create %s fallback %q: %w", kind, fb.Name, err)
		}
		trackCloser(ps, p)
		g.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", kind, "name", fb.Name, "role", "fallback")
	}
	return g, nil
}

func trackCloser(ps *Providers, p any) {
	if c, ok := p.(io.Closer); ok {
		ps.Closers = append(ps.Closers, c.Close)
	}
}

func endsWithRules(e config.ProviderEntry) bool {
	if n := len(e.Fallbacks); n > 0 {
		return e.Fallbacks[n-1].Name == "rules"
	}
	return e.Name == "rules"
}

// recordAttempt feeds provider attempts into the request and error counters.
// LLM latency is recorded here because the chat handler sees only the group.
func recordAttempt(m *observe.Metrics, kind string) func(string, error, time.Duration) {
	if m == nil {
		return nil
	}
	return func(provider string, err error, elapsed time.Duration) {
		ctx := context.Background()
		status := "ok"
		if err != nil {
			status = "error"
			m.RecordProviderError(ctx, provider, kind)
		}
		m.RecordProviderRequest(ctx, provider, kind, status)
		if kind == "llm" {
			m.LLMDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				observe.Attr("provider", provider),
				observe.Attr("status", status),
			))
		}
	}
}

func recordBreaker(m *observe.Metrics, kind string) func(string, resilience.State, resilience.State) {
	if m == nil {
		return nil
	}
	return func(provider string, _, to resilience.State) {
		m.RecordBreaker(context.Background(), kind, provider, to.String())
	}
}
