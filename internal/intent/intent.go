// Package intent maps recognised transcripts to tagged intents with extracted
// parameters. Routing is a pure function of the text, the rule table and the
// clock; nothing is persisted.
package intent

import (
	"fmt"
	"time"
)

// Tag is the category of a user request.
type Tag string

// Supported tags.
const (
	TagChat      Tag = "chat"
	TagWeather   Tag = "weather"
	TagNews      Tag = "news"
	TagSmartHome Tag = "smart_home"
	TagReminder  Tag = "reminder"
	TagCalendar  Tag = "calendar"
	TagSystem    Tag = "system"
	TagUnknown   Tag = "unknown"
)

// Valid reports whether t is one of the known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagChat, TagWeather, TagNews, TagSmartHome, TagReminder, TagCalendar, TagSystem, TagUnknown:
		return true
	}
	return false
}

// Actions carried in [Intent.Action].
const (
	ActionShutdown = "shutdown"
	ActionForget   = "forget"
	ActionTime     = "time"
	ActionDate     = "date"

	ActionCreate = "create"
	ActionList   = "list"
	ActionCancel = "cancel"

	ActionOn     = "on"
	ActionOff    = "off"
	ActionStatus = "status"
)

// DeviceState is the requested state of a smart-home device.
type DeviceState int

const (
	// StateNone means the request does not change the device (status query).
	StateNone DeviceState = iota
	StateOn
	StateOff
)

// String returns "on", "off" or "none".
func (s DeviceState) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	case StateNone:
		return "none"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
}

// Intent is the routed form of one transcript.
type Intent struct {
	Tag    Tag
	Action string

	// Device and DeviceState are set for [TagSmartHome].
	Device      string
	DeviceState DeviceState

	// Delay or At (never both) is set when a time was recognised in a
	// reminder or calendar request. Message is the request text without
	// the command words and the time phrase.
	Delay   time.Duration
	At      time.Time
	Message string

	// Text is the transcript the intent was derived from.
	Text string

	// Rule is the name of the matching rule, empty for the chat fallback.
	Rule string
}

// HasTime reports whether a fire or start time was recognised.
func (in Intent) HasTime() bool {
	return in.Delay > 0 || !in.At.IsZero()
}

// When resolves the recognised time against now. It returns the zero time
// when [Intent.HasTime] is false.
func (in Intent) When(now time.Time) time.Time {
	switch {
	case !in.At.IsZero():
		return in.At
	case in.Delay > 0:
		return now.Add(in.Delay)
	default:
		return time.Time{}
	}
}
