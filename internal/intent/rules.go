package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rule is one entry of the routing table. A rule matches when any keyword is
// a substring of the normalised text or when Pattern matches. Named groups
// "device" and "message" in Pattern fill the corresponding intent fields.
type Rule struct {
	Name     string   `yaml:"name"`
	Tag      Tag      `yaml:"tag"`
	Action   string   `yaml:"action,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
}

// Validate checks that the rule has a known tag and at least one predicate.
func (r Rule) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !r.Tag.Valid() {
		errs = append(errs, fmt.Errorf("unknown tag %q", r.Tag))
	}
	if len(r.Keywords) == 0 && r.Pattern == "" {
		errs = append(errs, errors.New("keywords or pattern required"))
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("pattern: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("intent: rule %q: %w", r.Name, err)
	}
	return nil
}

// DefaultRules returns the built-in routing table in priority order. Chat is
// the implicit fallback and has no rule.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "system-shutdown", Tag: TagSystem, Action: ActionShutdown,
			Keywords: []string{"выключись", "завершить работу", "заверши работу", "стоп программа"}},
		{Name: "system-forget", Tag: TagSystem, Action: ActionForget,
			Keywords: []string{"забудь", "сбрось", "новый разговор"}},
		{Name: "system-time", Tag: TagSystem, Action: ActionTime,
			Keywords: []string{"который час", "сколько времени", "какое время"}},
		{Name: "system-date", Tag: TagSystem, Action: ActionDate,
			Keywords: []string{"какое сегодня число", "какое число", "какая дата", "какой сегодня день"}},
		{Name: "reminder-list", Tag: TagReminder, Action: ActionList,
			Keywords: []string{"какие напоминания", "мои напоминания", "список напоминаний"}},
		{Name: "reminder-cancel", Tag: TagReminder, Action: ActionCancel,
			Keywords: []string{"отмени напоминание", "удали напоминание", "отмени напоминания", "удали напоминания"}},
		{Name: "reminder-create", Tag: TagReminder, Action: ActionCreate,
			Keywords: []string{"напомни", "напоминание"}},
		{Name: "calendar-list", Tag: TagCalendar, Action: ActionList,
			Keywords: []string{"какие встречи", "мои встречи", "что в календаре", "ближайшие события"}},
		{Name: "calendar-create", Tag: TagCalendar, Action: ActionCreate,
			Keywords: []string{"создай встречу", "добавь событие", "запланируй"}},
		{Name: "smarthome-on", Tag: TagSmartHome, Action: ActionOn,
			Pattern: `(?:^|\s)(?:включи|включить|запусти|запустить)\s+(?P<device>.+)`},
		{Name: "smarthome-off", Tag: TagSmartHome, Action: ActionOff,
			Pattern: `(?:^|\s)(?:выключи|выключить|останови|остановить)\s+(?P<device>.+)`},
		{Name: "smarthome-status", Tag: TagSmartHome, Action: ActionStatus,
			Pattern: `(?:^|\s)(?:статус|состояние)\s+(?P<device>.+)`},
		{Name: "weather", Tag: TagWeather,
			Keywords: []string{"погода", "погоду", "погоды", "температура", "градус"}},
		{Name: "news", Tag: TagNews,
			Keywords: []string{"новост"}},
	}
}

const paramGroup = ""

// compiled is a validated rule ready for matching.
type compiled struct {
	Rule
	keywords []string
	re       *regexp.Regexp
}

func compile(rules []Rule) ([]compiled, error) {
	out := make([]compiled, 0, len(rules))
	var errs []error
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		c := compiled{Rule: r}
		for _, k := range r.Keywords {
			if k = normalize(k); k != "" {
				c.keywords = append(c.keywords, k)
			}
		}
		if r.Pattern != "" {
			c.re = regexp.MustCompile(r.Pattern)
		}
		out = append(out, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// match reports whether the rule applies to norm (keyword form) or lower
// (pattern form) and returns the pattern submatches, if any.
func (c *compiled) match(norm, lower string) (keyword string, groups map[string]string, ok bool) {
	for _, k := range c.keywords {
		if strings.Contains(norm, k) {
			return k, nil, true
		}
	}
	if c.re == nil {
		return "", nil, false
	}
	m := c.re.FindStringSubmatch(lower)
	if m == nil {
		return "", nil, false
	}
	groups = make(map[string]string)
	names := c.re.SubexpNames()
	for i := 1; i < len(m); i++ {
		if names[i] != "" {
			groups[names[i]] = m[i]
		}
	}
	// Unnamed patterns from config: the last group is the parameter.
	if len(groups) == 0 && len(m) > 1 {
		groups[paramGroup] = m[len(m)-1]
	}
	return "", groups, true
}
