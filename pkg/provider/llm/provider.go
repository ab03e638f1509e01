// Package llm defines the Provider interface for the chat backend of the
// assistant.
//
// An LLM provider wraps a remote or local model API (an OpenAI-compatible
// server, a llama.cpp instance exposed through any-llm, or the built-in rule
// set) and answers one conversational turn at a time. The orchestration core
// treats it as a black box: the model identifier, quantisation and generation
// bounds are pass-through configuration.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when the backend cannot produce a reply.
var ErrUnavailable = errors.New("llm: generation unavailable")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the dialogue history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is the
	// user turn being answered.
	Messages []Message

	// SystemPrompt is injected before the history.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the backend default.
	Temperature float64

	// TopP is the nucleus sampling bound. Zero uses the backend default.
	TopP float64

	// MaxTokens caps the number of generated tokens. Zero uses the backend
	// default.
	MaxTokens int
}

// LastUser returns the content of the most recent user message, or "".
func (r CompletionRequest) LastUser() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It must
	// return promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Unavailable wraps err so that it matches [ErrUnavailable].
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrUnavailable, err)
}

var specialTokens = strings.NewReplacer("<s>", "", "</s>", "", "<|im_start|>", "", "<|im_end|>", "")

// CleanReply strips chat-template tokens and role prefixes from a model reply
// and keeps only the first line of a multi-line answer when that line is
// substantial, so spoken answers stay short.
func CleanReply(text string) string {
	text = specialTokens.Replace(text)
	for _, role := range []string{"assistant\n", "user\n", "system\n"} {
		text = strings.TrimPrefix(text, role)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 1 && len([]rune(lines[0])) > 20 {
		text = lines[0]
	}
	return strings.TrimSpace(text)
}
