package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when older chat
// turns are folded into the running summary.
const summarisationPrompt = `Кратко перескажи следующий разговор пользователя с голосовым ассистентом.
Сохрани имена, факты, договорённости и незакрытые вопросы пользователя.
Не более трёх предложений, без вступлений.`

// Summariser condenses dialogue turns into a short text.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser asks a chat model for the summary.
type LLMSummariser struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMSummariser returns a [LLMSummariser] backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider, maxTokens: 150}
}

// Summarise renders messages as a transcript and returns the model's summary.
// A previous summary passed as a system message is kept in the transcript.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", speakerName(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("session: summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func speakerName(role string) string {
	switch role {
	case llm.RoleUser:
		return "пользователь"
	case llm.RoleAssistant:
		return "ассистент"
	default:
		return "ранее"
	}
}
