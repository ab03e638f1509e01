// Package rules provides an offline llm.Provider that answers small talk from
// a fixed rule table. It is used when no model backend is configured and as
// the last member of the chat fallback group.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// DefaultReply is returned when no rule matches.
const DefaultReply = "Извините, я пока не могу ответить на этот вопрос. Попробуйте переформулировать."

// Rule maps any of Keywords (substring, case-insensitive) to a reply. Reply
// receives the current time so that time and date answers can be rendered.
type Rule struct {
	Keywords []string
	Reply    func(now time.Time) string
}

func fixed(s string) func(time.Time) string {
	return func(time.Time) string { return s }
}

// DefaultRules is the built-in table, checked in order.
var DefaultRules = []Rule{
	{Keywords: []string{"привет", "здравствуй"}, Reply: fixed("Привет! Чем могу помочь?")},
	{Keywords: []string{"как дела", "как ты"}, Reply: fixed("У меня все хорошо, спасибо! Чем могу быть полезен?")},
	{Keywords: []string{"спасибо"}, Reply: fixed("Пожалуйста, рад помочь!")},
	{Keywords: []string{"пока", "до свидания"}, Reply: fixed("До свидания! Обращайтесь если что-то понадобится.")},
	{Keywords: []string{"время", "который час"}, Reply: func(now time.Time) string {
		return fmt.Sprintf("Сейчас %s", now.Format("15:04"))
	}},
	{Keywords: []string{"дата", "какое число"}, Reply: func(now time.Time) string {
		return fmt.Sprintf("Сегодня %s", now.Format("02.01.2006"))
	}},
}

// Option configures a [Provider].
type Option func(*Provider)

// WithRules replaces the rule table.
func WithRules(r []Rule) Option {
	return func(p *Provider) { p.rules = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// Provider answers the last user message from its rule table.
type Provider struct {
	rules []Rule
	now   func() time.Time
}

// New returns a rule-based provider using [DefaultRules].
func New(opts ...Option) *Provider {
	p := &Provider{rules: DefaultRules, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Complete implements llm.Provider. It never fails.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	text := strings.ToLower(req.LastUser())
	for _, r := range p.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return &llm.CompletionResponse{Content: r.Reply(p.now())}, nil
			}
		}
	}
	return &llm.CompletionResponse{Content: DefaultReply}, nil
}
