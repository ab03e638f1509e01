package reminder

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoTime is returned by [ParseRequest] when the text names no time.
var ErrNoTime = errors.New("reminder: no time in request")

// Request is a parsed reminder command. Exactly one of Delay and At is set.
type Request struct {
	Delay   time.Duration
	At      time.Time
	Message string
}

// FireAt resolves the request against now.
func (r Request) FireAt(now time.Time) time.Time {
	if !r.At.IsZero() {
		return r.At
	}
	return now.Add(r.Delay)
}

var (
	relativeRe = regexp.MustCompile(`через\s+(?:(\d+)\s+)?(секунд|минут|час)\S*`)
	halfHourRe = regexp.MustCompile(`через\s+полчаса`)
	tomorrowRe = regexp.MustCompile(`завтра\s+в\s+(\d{1,2})[:.](\d{2})`)
	clockRe    = regexp.MustCompile(`(?:^|\s)в\s+(\d{1,2})[:.](\d{2})`)
	hourRe     = regexp.MustCompile(`(?:^|\s)в\s+(\d{1,2})\s+час\S*`)
)

// leading words dropped from the message
var fillers = map[string]bool{
	"напомни": true, "напомните": true, "напоминание": true, "поставь": true,
	"создай": true, "установи": true, "мне": true, "пожалуйста": true,
	"о": true, "об": true, "про": true, "что": true, "чтобы": true,
}

// ParseRequest extracts the fire time and message from a reminder command:
//
//	через N секунд|минут|часов, через минуту, через час, через полчаса
//	в HH:MM (today, or tomorrow if already passed), в N часов
//	завтра в HH:MM
//
// The message is the rest of the text without the command words and the
// time phrase. When no time is found the returned request still carries the
// message and the error is [ErrNoTime].
func ParseRequest(text string, now time.Time) (Request, error) {
	lower := strings.ToLower(strings.ReplaceAll(text, "ё", "е"))

	var req Request
	var span []int

	switch {
	case halfHourRe.MatchString(lower):
		span = halfHourRe.FindStringIndex(lower)
		req.Delay = 30 * time.Minute

	case relativeRe.MatchString(lower):
		m := relativeRe.FindStringSubmatchIndex(lower)
		span = m[:2]
		n := 1
		if m[2] >= 0 {
			n, _ = strconv.Atoi(lower[m[2]:m[3]])
		}
		unit := map[string]time.Duration{"секунд": time.Second, "минут": time.Minute, "час": time.Hour}[lower[m[4]:m[5]]]
		req.Delay = time.Duration(n) * unit

	case tomorrowRe.MatchString(lower):
		m := tomorrowRe.FindStringSubmatchIndex(lower)
		span = m[:2]
		at, ok := clock(now, lower[m[2]:m[3]], lower[m[4]:m[5]])
		if !ok {
			return Request{Message: message(lower, nil)}, ErrNoTime
		}
		req.At = at.AddDate(0, 0, 1)

	case clockRe.MatchString(lower):
		m := clockRe.FindStringSubmatchIndex(lower)
		span = m[:2]
		at, ok := clock(now, lower[m[2]:m[3]], lower[m[4]:m[5]])
		if !ok {
			return Request{Message: message(lower, nil)}, ErrNoTime
		}
		req.At = nextOccurrence(at, now)

	case hourRe.MatchString(lower):
		m := hourRe.FindStringSubmatchIndex(lower)
		span = m[:2]
		at, ok := clock(now, lower[m[2]:m[3]], "0")
		if !ok {
			return Request{Message: message(lower, nil)}, ErrNoTime
		}
		req.At = nextOccurrence(at, now)

	default:
		return Request{Message: message(lower, nil)}, ErrNoTime
	}

	if req.At.IsZero() && req.Delay <= 0 {
		return Request{Message: message(lower, span)}, ErrNoTime
	}
	req.Message = message(lower, span)
	return req, nil
}

func clock(now time.Time, hh, mm string) (time.Time, bool) {
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return time.Time{}, false
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, h, m, 0, 0, now.Location()), true
}

func nextOccurrence(at, now time.Time) time.Time {
	if at.Before(now) {
		return at.AddDate(0, 0, 1)
	}
	return at
}

// message removes span from text and strips leading command words and
// surrounding punctuation.
func message(text string, span []int) string {
	if span != nil {
		text = text[:span[0]] + " " + text[span[1]:]
	}
	words := strings.Fields(text)
	for len(words) > 0 && fillers[strings.Trim(words[0], ",.!?:;")] {
		words = words[1:]
	}
	return strings.Trim(strings.Join(words, " "), " ,.!?:;-")
}
