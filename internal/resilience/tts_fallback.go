package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

var errNoVoiceList = errors.New("resilience: provider cannot list voices")

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any synthesiser is still accepting calls.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// Synthesize starts synthesis on the first healthy provider. Only opening
// the stream is covered by failover; an error after the first chunk ends the
// stream and is reported by [tts.Stream.Err].
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Stream, error) {
	s, err := ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Stream, error) {
		return p.Synthesize(ctx, text, voice)
	})
	if err != nil {
		return nil, tts.Unavailable("fallback", err)
	}
	return s, nil
}

// ListVoices returns the voices of the first healthy provider that can list
// them.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		l, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, errNoVoiceList
		}
		return l.ListVoices(ctx)
	})
}
