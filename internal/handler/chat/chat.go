// Package chat answers free-form requests with the configured LLM.
package chat

import (
	"context"
	"errors"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

var _ handler.Handler = (*Handler)(nil)

// DefaultSystemPrompt keeps replies short enough to be spoken.
const DefaultSystemPrompt = "Ты полезный голосовой ассистент. Отвечай кратко и по делу на русском языке, " +
	"не более двух-трёх предложений. Не используй разметку, списки и эмодзи."

// ReplyUnavailable is spoken when the model produced nothing usable.
const ReplyUnavailable = "Извините, не удалось получить ответ. Попробуйте ещё раз."

// Config holds generation parameters passed through to the model.
type Config struct {
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// Handler serves [intent.TagChat].
type Handler struct {
	provider llm.Provider
	cfg      Config
}

// New returns a chat handler. An empty SystemPrompt uses [DefaultSystemPrompt].
func New(p llm.Provider, cfg Config) (*Handler, error) {
	if p == nil {
		return nil, errors.New("chat: provider must not be nil")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Handler{provider: p, cfg: cfg}, nil
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return "chat" }

// Handle implements handler.Handler. The dialogue history precedes the new
// user turn.
func (h *Handler) Handle(ctx context.Context, in intent.Intent, dc handler.DialogueContext) (handler.Response, error) {
	msgs := make([]llm.Message, 0, len(dc.History)+1)
	msgs = append(msgs, dc.History...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Text})

	resp, err := h.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: h.cfg.SystemPrompt,
		Temperature:  h.cfg.Temperature,
		TopP:         h.cfg.TopP,
		MaxTokens:    h.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return handler.Response{}, &handler.Error{Handler: h.Name(), Category: handler.CategoryTimeout, Err: err}
		}
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyUnavailable, err)
	}

	text := llm.CleanReply(resp.Content)
	if text == "" {
		return handler.Response{}, handler.Unavailable(h.Name(), ReplyUnavailable, errors.New("empty reply"))
	}
	return handler.Response{Text: text}, nil
}
