package resilience

import (
	"context"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognisers. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any recogniser is still accepting calls.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// Transcribe recognises u with the first healthy provider. The error returned
// when every provider failed still matches [stt.ErrRecognitionUnavailable].
func (f *STTFallback) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}
	t, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, u)
	})
	if err != nil {
		return stt.Transcript{}, stt.Unavailable("fallback", err)
	}
	return t, nil
}
