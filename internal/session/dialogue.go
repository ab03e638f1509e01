package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

// Dialogue defaults.
const (
	DefaultMaxMessages    = 10
	DefaultPromptMessages = 6
	defaultSummaryTimeout = 20 * time.Second
)

// DialogueConfig configures a [Dialogue].
type DialogueConfig struct {
	// MaxMessages caps the retained turns. Older turns are dropped, or folded
	// into the summary when a Summariser is set.
	MaxMessages int

	// PromptMessages is the number of most recent turns handed to handlers.
	PromptMessages int

	// Summariser is optional.
	Summariser Summariser

	// SummaryTimeout bounds one summarisation call.
	SummaryTimeout time.Duration
}

// Dialogue keeps the recent chat turns handed to the chat handler. Turns
// that overflow MaxMessages are summarised in the background; a Reset
// discards summaries that are still in flight.
//
// All methods are safe for concurrent use.
type Dialogue struct {
	maxMessages    int
	promptMessages int
	summariser     Summariser
	summaryTimeout time.Duration

	mu          sync.Mutex
	messages    []llm.Message
	overflow    []llm.Message
	summary     string
	gen         uint64
	summarising bool
	wg          sync.WaitGroup
}

// NewDialogue returns an empty dialogue. Zero limits take the defaults.
func NewDialogue(cfg DialogueConfig) *Dialogue {
	d := &Dialogue{
		maxMessages:    cfg.MaxMessages,
		promptMessages: cfg.PromptMessages,
		summariser:     cfg.Summariser,
		summaryTimeout: cfg.SummaryTimeout,
	}
	if d.maxMessages <= 0 {
		d.maxMessages = DefaultMaxMessages
	}
	if d.promptMessages <= 0 {
		d.promptMessages = DefaultPromptMessages
	}
	d.promptMessages = min(d.promptMessages, d.maxMessages)
	if d.summaryTimeout <= 0 {
		d.summaryTimeout = defaultSummaryTimeout
	}
	return d
}

// Add appends turns and drops the oldest ones beyond MaxMessages.
func (d *Dialogue) Add(msgs ...llm.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.messages = append(d.messages, msgs...)
	over := len(d.messages) - d.maxMessages
	if over <= 0 {
		return
	}
	dropped := d.messages[:over]
	d.messages = slices.Clone(d.messages[over:])

	if d.summariser == nil {
		return
	}
	d.overflow = append(d.overflow, dropped...)
	if !d.summarising {
		d.summarising = true
		d.wg.Add(1)
		go d.summarise(d.gen)
	}
}

// Prompt returns the running summary as a system message followed by the
// last PromptMessages turns.
func (d *Dialogue) Prompt() []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	recent := d.messages[max(0, len(d.messages)-d.promptMessages):]
	out := make([]llm.Message, 0, len(recent)+1)
	if d.summary != "" {
		out = append(out, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Краткое содержание предыдущего разговора: " + d.summary,
		})
	}
	return append(out, recent...)
}

// Messages returns a copy of the retained turns.
func (d *Dialogue) Messages() []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.messages)
}

// Summary returns the running summary, empty if none.
func (d *Dialogue) Summary() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// Reset forgets every turn and the summary.
func (d *Dialogue) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.messages = nil
	d.overflow = nil
	d.summary = ""
	d.summarising = false
}

// Wait blocks until background summarisation has finished.
func (d *Dialogue) Wait() {
	d.wg.Wait()
}

// summarise folds the overflow into the summary until no overflow is left.
// It gives up silently once gen is stale.
func (d *Dialogue) summarise(gen uint64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		if len(d.overflow) == 0 {
			d.summarising = false
			d.mu.Unlock()
			return
		}
		batch := d.overflow
		d.overflow = nil
		if d.summary != "" {
			batch = append([]llm.Message{{Role: llm.RoleSystem, Content: d.summary}}, batch...)
		}
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.summaryTimeout)
		summary, err := d.summariser.Summarise(ctx, batch)
		cancel()

		d.mu.Lock()
		switch {
		case d.gen != gen:
		case err != nil:
			slog.Warn("session: dialogue summary failed", "turns", len(batch), "err", err)
		case summary != "":
			d.summary = summary
		}
		d.mu.Unlock()
	}
}
