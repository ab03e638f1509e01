package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/pivoice/pkg/provider/tts/mock"
)

func collect(s *tts.Stream) [][]byte {
	var chunks [][]byte
	for c := range s.Audio {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{Threshold: 3},
	})
	fb.AddFallback("secondary", secondary)

	s, err := fb.Synthesize(context.Background(), "привет", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := collect(s)
	if len(chunks) != 2 || string(chunks[0]) != "audio1" {
		t.Fatalf("chunks = %q, want [audio1 audio2]", chunks)
	}
	if got := len(secondary.Texts()); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{Threshold: 3},
	})
	fb.AddFallback("secondary", secondary)

	s, err := fb.Synthesize(context.Background(), "привет", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks := collect(s); len(chunks) != 1 || string(chunks[0]) != "fallback-audio" {
		t.Fatalf("chunks = %q, want [fallback-audio]", chunks)
	}
	if got := secondary.Texts(); len(got) != 1 || got[0] != "привет" {
		t.Fatalf("secondary texts = %q, want [привет]", got)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewTTSFallback(&ttsmock.Provider{Err: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &ttsmock.Provider{Err: errors.New("b")})

	_, err := fb.Synthesize(context.Background(), "привет", tts.VoiceProfile{})
	if !errors.Is(err, tts.ErrSynthesisUnavailable) || !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrSynthesisUnavailable and ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "irina"}}}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "irina" {
		t.Fatalf("voices = %+v, want [irina]", voices)
	}
}
