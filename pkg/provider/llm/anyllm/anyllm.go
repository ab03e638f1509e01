// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
//
// On a Raspberry Pi the useful backends are the local servers (ollama,
// llamacpp, llamafile). The cloud backends behave the same when the device
// has network access.
//
//	p, err := anyllm.New("llamacpp", "qwen2.5-1.5b-instruct", anyllmlib.WithBaseURL("http://127.0.0.1:8080/v1"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// backends maps a provider name to its any-llm constructor.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"anthropic": wrap(anthropic.New),
	"deepseek":  wrap(deepseek.New),
	"gemini":    wrap(gemini.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
	"mistral":   wrap(mistral.New),
	"ollama":    wrap(ollama.New),
	"openai":    wrap(anyllmoai.New),
}

// local lists backends that run on the device or the home network.
var local = []string{"llamacpp", "llamafile", "ollama"}

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

// Backends lists the accepted provider names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var _ llm.Provider = (*Provider)(nil)

// Provider answers chat turns through one any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New returns a Provider for the backend called name (case-insensitive, see
// [Backends]). Without an API key option, cloud backends read the usual
// environment variable such as OPENAI_API_KEY.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)", name, strings.Join(Backends(), ", "))
	}
	backend, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// Local reports whether the backend runs without a cloud account.
func (p *Provider) Local() bool { return slices.Contains(local, p.name) }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: no messages")
	}
	backend := "anyllm/" + p.name
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, llm.Unavailable(backend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.Unavailable(backend, errors.New("no choices in response"))
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = ptr(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = ptr(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = ptr(req.MaxTokens)
	}
	return params
}

func ptr[T any](v T) *T { return &v }
