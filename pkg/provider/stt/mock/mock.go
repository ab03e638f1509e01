// Package mock provides a test double for the stt.Provider interface.
//
// Queue per-call results in Results; once the queue is empty every call
// returns Transcript / Err. Set Block to make calls wait until their context
// is cancelled, which simulates a recogniser that never answers.
//
// Example:
//
//	p := &mock.Provider{Transcript: stt.Transcript{Text: "погода", Confidence: 1}}
//	t, _ := p.Transcribe(ctx, utterance)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Result is one queued Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call.
	Results []Result

	// Transcript and Err are returned once Results is exhausted.
	Transcript stt.Transcript
	Err        error

	// Delay is slept before answering (honouring ctx).
	Delay time.Duration

	// Block makes every call wait for ctx to be cancelled and return
	// stt.ErrRecognitionUnavailable wrapping the context error.
	Block bool

	// Calls records every utterance passed to Transcribe.
	Calls []audio.Utterance
}

// Transcribe records the call and returns the next queued result.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, u)
	block, delay := p.Block, p.Delay
	var r Result
	if len(p.Results) > 0 {
		r = p.Results[0]
		p.Results = p.Results[1:]
	} else {
		r = Result{Transcript: p.Transcript, Err: p.Err}
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, stt.Unavailable("mock", ctx.Err())
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return stt.Transcript{}, stt.Unavailable("mock", ctx.Err())
		case <-time.After(delay):
		}
	}
	return r.Transcript, r.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
