// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings. The
// model is loaded once at startup and inference calls are serialised.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription. Defaults to "ru".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use.
// Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The CGO call cannot be interrupted, so
// ctx is honoured by abandoning the result: the caller gets the context
// error immediately while inference finishes in the background.
func (p *NativeProvider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, stt.Unavailable("whisper", err)
	}

	samples := audio.Float32s(audio.Convert(u.PCM(), u.Format, whisperFormat))

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.infer(samples)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return stt.Transcript{}, stt.Unavailable("whisper", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return stt.Transcript{}, stt.Unavailable("whisper", r.err)
		}
		return stt.Transcript{
			Text:       r.text,
			Confidence: 1,
			Language:   p.language,
			Duration:   u.Duration(),
		}, nil
	}
}

// infer runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) infer(samples []float32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
