package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// fakeSummariser records its input and returns a fixed summary. When gate
// is set, each call waits for it to be closed.
type fakeSummariser struct {
	result string
	err    error
	gate   chan struct{}

	mu    sync.Mutex
	calls [][]llm.Message
}

func (f *fakeSummariser) Summarise(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeSummariser) Calls() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.calls...)
}

func turns(n int) []llm.Message {
	out := make([]llm.Message, 0, n)
	for i := range n {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return out
}

func contents(msgs []llm.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, ",")
}

func TestDialogue_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDialogue(DialogueConfig{})
	d.Add(turns(12)...)

	if got := contents(d.Messages()); got != "m2,m3,m4,m5,m6,m7,m8,m9,m10,m11" {
		t.Errorf("Messages = %s, want the last %d", got, DefaultMaxMessages)
	}
	if got := contents(d.Prompt()); got != "m6,m7,m8,m9,m10,m11" {
		t.Errorf("Prompt = %s, want the last %d", got, DefaultPromptMessages)
	}
}

func TestDialogue_PromptNeverExceedsRetained(t *testing.T) {
	t.Parallel()

	d := NewDialogue(DialogueConfig{MaxMessages: 2, PromptMessages: 6})
	d.Add(turns(3)...)
	if got := contents(d.Prompt()); got != "m1,m2" {
		t.Errorf("Prompt = %s, want m1,m2", got)
	}
}

func TestDialogue_SummarisesOverflow(t *testing.T) {
	t.Parallel()

	s := &fakeSummariser{result: "говорили о погоде"}
	d := NewDialogue(DialogueConfig{MaxMessages: 4, PromptMessages: 2, Summariser: s})
	d.Add(turns(6)...)
	d.Wait()

	calls := s.Calls()
	if len(calls) != 1 {
		t.Fatalf("Summarise calls = %d, want 1", len(calls))
	}
	if got := contents(calls[0]); got != "m0,m1" {
		t.Errorf("summarised %s, want m0,m1", got)
	}
	if d.Summary() != "говорили о погоде" {
		t.Errorf("Summary = %q", d.Summary())
	}

	prompt := d.Prompt()
	if len(prompt) != 3 {
		t.Fatalf("Prompt len = %d, want 3", len(prompt))
	}
	if prompt[0].Role != llm.RoleSystem || !strings.Contains(prompt[0].Content, "говорили о погоде") {
		t.Errorf("Prompt[0] = %+v, want summary system message", prompt[0])
	}
	if got := contents(prompt[1:]); got != "m4,m5" {
		t.Errorf("Prompt turns = %s, want m4,m5", got)
	}

	// The next overflow carries the previous summary along.
	d.Add(turns(2)...)
	d.Wait()
	calls = s.Calls()
	if len(calls) != 2 {
		t.Fatalf("Summarise calls = %d, want 2", len(calls))
	}
	if calls[1][0].Role != llm.RoleSystem || calls[1][0].Content != "говорили о погоде" {
		t.Errorf("second batch starts with %+v, want previous summary", calls[1][0])
	}
}

func TestDialogue_ResetDiscardsSummaryInFlight(t *testing.T) {
	t.Parallel()

	s := &fakeSummariser{result: "устаревшее", gate: make(chan struct{})}
	d := NewDialogue(DialogueConfig{MaxMessages: 2, Summariser: s})
	d.Add(turns(3)...)
	d.Reset()
	close(s.gate)
	d.Wait()

	if d.Summary() != "" {
		t.Errorf("Summary = %q, want empty after Reset", d.Summary())
	}
	if n := len(d.Messages()); n != 0 {
		t.Errorf("Messages len = %d, want 0", n)
	}
	if n := len(d.Prompt()); n != 0 {
		t.Errorf("Prompt len = %d, want 0", n)
	}
}

func TestDialogue_SummaryErrorKeepsTurnsDropped(t *testing.T) {
	t.Parallel()

	s := &fakeSummariser{err: fmt.Errorf("offline")}
	d := NewDialogue(DialogueConfig{MaxMessages: 2, Summariser: s})
	d.Add(turns(4)...)
	d.Wait()

	if d.Summary() != "" {
		t.Errorf("Summary = %q, want empty", d.Summary())
	}
	if got := contents(d.Messages()); got != "m2,m3" {
		t.Errorf("Messages = %s, want m2,m3", got)
	}
}
