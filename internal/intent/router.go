package intent

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/transcript"
	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Router evaluates the rule table in order and returns the first match.
// Unmatched non-empty text routes to [TagChat]. Route is safe for concurrent
// use with Swap.
type Router struct {
	table atomic.Pointer[[]compiled]
	now   func() time.Time
}

// Option configures a [Router].
type Option func(*Router)

// WithClock sets the clock used to resolve "в 15:30" style times.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter compiles rules. A nil or empty slice installs [DefaultRules].
func NewRouter(rules []Rule, opts ...Option) (*Router, error) {
	r := &Router{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if err := r.Swap(rules); err != nil {
		return nil, err
	}
	return r, nil
}

// Swap atomically replaces the rule table. On error the previous table stays
// installed.
func (r *Router) Swap(rules []Rule) error {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	table, err := compile(rules)
	if err != nil {
		return err
	}
	r.table.Store(&table)
	return nil
}

// Rules returns a copy of the installed table.
func (r *Router) Rules() []Rule {
	table := *r.table.Load()
	out := make([]Rule, len(table))
	for i, c := range table {
		out[i] = c.Rule
	}
	return out
}

// Route classifies a transcript. The caller has already checked
// [stt.Transcript.Valid].
func (r *Router) Route(t stt.Transcript) Intent {
	return r.RouteText(t.Text)
}

// RouteText classifies raw text. Text without a single letter or digit after
// sanitising routes to [TagUnknown].
func (r *Router) RouteText(text string) Intent {
	text = transcript.Sanitize(text)
	norm := normalize(text)
	if norm == "" {
		return Intent{Tag: TagUnknown, Text: text}
	}
	lower := strings.ToLower(strings.ReplaceAll(text, "ё", "е"))

	for _, c := range *r.table.Load() {
		keyword, groups, ok := c.match(norm, lower)
		if !ok {
			continue
		}
		in := Intent{Tag: c.Tag, Action: c.Action, Text: text, Rule: c.Name}
		r.fill(&in, lower, keyword, groups)
		slog.Debug("intent: routed", "rule", c.Name, "tag", in.Tag, "action", in.Action)
		return in
	}
	return Intent{Tag: TagChat, Text: text}
}

// fill extracts tag-specific parameters.
func (r *Router) fill(in *Intent, lower, keyword string, groups map[string]string) {
	rest := strings.TrimSpace(lower)
	if keyword != "" {
		rest = strings.TrimSpace(strings.Replace(rest, keyword, " ", 1))
	}

	switch in.Tag {
	case TagSmartHome:
		dev := groups["device"]
		if dev == "" {
			dev = groups[paramGroup]
		}
		in.Device = cleanDevice(dev)
		switch in.Action {
		case ActionOn:
			in.DeviceState = StateOn
		case ActionOff:
			in.DeviceState = StateOff
		}
		return

	case TagReminder, TagCalendar:
		if in.Action != ActionCreate && in.Action != "" {
			in.Message = trimPunct(rest)
			return
		}
		src := rest
		if in.Tag == TagReminder {
			// ParseRequest strips the reminder command words itself.
			src = lower
		}
		req, err := reminder.ParseRequest(src, r.now())
		in.Message = req.Message
		if err == nil {
			in.Delay, in.At = req.Delay, req.At
		}
		if in.Message == "" {
			in.Message = trimPunct(rest)
		}
		return
	}

	if msg, ok := groups["message"]; ok {
		in.Message = trimPunct(msg)
		return
	}
	if msg, ok := groups[paramGroup]; ok {
		in.Message = trimPunct(msg)
		return
	}
	in.Message = trimPunct(rest)
}

// cleanDevice drops politeness words and punctuation around a device name.
func cleanDevice(s string) string {
	var words []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ",.!?:;")
		if w == "" || w == "пожалуйста" {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

func trimPunct(s string) string {
	return strings.Trim(strings.Join(strings.Fields(s), " "), " ,.!?:;-")
}

func normalize(s string) string {
	return phonetic.Normalize(s)
}
