// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify which
// texts were handed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks:           [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Irina"}},
//	}
//	stream, _ := p.Synthesize(ctx, "Привет", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Ensure Provider implements the tts interfaces at compile time.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// DefaultFormat is used when Provider.Format is unset.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks is the sequence of audio byte slices emitted on the stream.
	// When empty, a single 320-byte silent chunk is emitted.
	Chunks [][]byte

	// Format of the emitted stream. Defaults to DefaultFormat.
	Format audio.Format

	// Err, if non-nil, is returned from Synthesize instead of a stream.
	Err error

	// StreamErr, if non-nil, is recorded on the stream after the chunks.
	StreamErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and, if Err is nil, returns a stream that emits
// Chunks then closes.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	if len(chunks) == 0 {
		chunks = [][]byte{make([]byte, 320)}
	}
	format := p.Format
	if format.SampleRate == 0 {
		format = DefaultFormat
	}
	streamErr := p.StreamErr
	p.mu.Unlock()

	stream, w := tts.NewStream(format, len(chunks))
	go func() {
		for _, c := range chunks {
			if !w.Send(ctx, c) {
				w.Close(ctx.Err())
				return
			}
		}
		w.Close(streamErr)
	}()
	return stream, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the texts passed to Synthesize, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// SetErr replaces Err under the lock.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.ListVoicesCalls = 0
}
