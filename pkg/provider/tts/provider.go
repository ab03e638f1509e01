// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one response text into a [Stream] of PCM chunks that
// the playback mixer can start on before synthesis completes. A failure to
// start synthesis is reported wrapped in [ErrSynthesisUnavailable]; a failure
// after the first audio has been produced closes the stream early and is
// available from [Stream.Err].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/pivoice/pkg/audio"
)

// ErrSynthesisUnavailable is returned when the backend cannot synthesise the
// requested text (network failure, timeout, missing model).
var ErrSynthesisUnavailable = errors.New("tts: synthesis unavailable")

// MaxTextLength bounds the number of characters handed to a backend.
const MaxTextLength = 1000

// VoiceProfile describes the voice a response is spoken in.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (Piper model, Coqui
	// speaker, ElevenLabs voice ID).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default). Zero means
	// the backend default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesising text and returns the audio stream. The
	// stream's Audio channel is closed when synthesis finishes, fails or ctx
	// is cancelled; the consumer must drain it.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Stream, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Stream is synthesised audio delivered incrementally.
type Stream struct {
	// Audio carries PCM chunks in Format.
	Audio <-chan []byte

	// Format of every chunk on Audio.
	Format audio.Format

	mu  sync.Mutex
	err error
}

// Err returns the error that ended the stream early, or nil. Only
// meaningful after Audio has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StreamWriter is the producer side of a [Stream].
type StreamWriter struct {
	ch     chan []byte
	stream *Stream
	once   sync.Once
}

// NewStream returns a stream in format and its writer. buf is the channel
// depth.
func NewStream(format audio.Format, buf int) (*Stream, *StreamWriter) {
	ch := make(chan []byte, buf)
	s := &Stream{Audio: ch, Format: format}
	return s, &StreamWriter{ch: ch, stream: s}
}

// Send delivers chunk unless ctx is cancelled first. It reports whether the
// chunk was delivered.
func (w *StreamWriter) Send(ctx context.Context, chunk []byte) bool {
	select {
	case w.ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. A non-nil err is recorded for [Stream.Err]. Only the
// first call has an effect.
func (w *StreamWriter) Close(err error) {
	w.once.Do(func() {
		if err != nil {
			w.stream.mu.Lock()
			w.stream.err = err
			w.stream.mu.Unlock()
		}
		close(w.ch)
	})
}

// FromPCM wraps a complete PCM buffer as a stream of chunk-sized slices.
func FromPCM(pcm []byte, format audio.Format, chunk int) *Stream {
	return &Stream{Audio: audio.Chunks(pcm, chunk), Format: format}
}

// Unavailable wraps err so that it matches [ErrSynthesisUnavailable] while
// keeping the backend cause reachable through errors.Is.
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrSynthesisUnavailable, err)
}

var (
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}\s.,!?;:\-—'"()]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// SanitizeText prepares text for synthesis: it is truncated to
// [MaxTextLength] characters, stripped of everything except letters, digits,
// whitespace and basic punctuation, and whitespace runs are collapsed.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	if r := []rune(text); len(r) > MaxTextLength {
		text = string(r[:MaxTextLength])
	}
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	text = disallowed.ReplaceAllString(text, "")
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace or the end of the text. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the byte index of the first sentence-ending
// character that is either at the end of s or immediately followed by
// whitespace, so "3.14" is not split. Returns -1 if none is found.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
