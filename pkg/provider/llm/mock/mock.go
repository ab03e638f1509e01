// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that handlers send the right
// CompletionRequests and to feed controlled responses without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Привет!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// A nil CompleteResponse with a nil CompleteErr yields an empty reply.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// Block makes Complete wait for ctx to be cancelled.
	Block bool

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	resp, err, block := p.CompleteResponse, p.CompleteErr, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, llm.Unavailable("mock", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
