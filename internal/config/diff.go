package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The first group
// can be applied while running; RestartRequired names changed sections that
// only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	IntentsChanged bool

	// PhrasesChanged is set when wake or stop phrases changed.
	PhrasesChanged bool

	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.IntentsChanged && !d.PhrasesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.IntentsChanged = !reflect.DeepEqual(old.Intents, new.Intents)
	d.PhrasesChanged = !slices.Equal(old.Wake.Phrases, new.Wake.Phrases) ||
		!slices.Equal(old.Wake.StopPhrases, new.Wake.StopPhrases)

	oldWake, newWake := old.Wake, new.Wake
	oldWake.Phrases, oldWake.StopPhrases = nil, nil
	newWake.Phrases, newWake.StopPhrases = nil, nil
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"wake", oldWake, newWake},
		{"session", old.Session, new.Session},
		{"timeouts", old.Timeouts, new.Timeouts},
		{"providers", old.Providers, new.Providers},
		{"weather", old.Weather, new.Weather},
		{"news", old.News, new.News},
		{"calendar", old.Calendar, new.Calendar},
		{"smart_home", old.SmartHome, new.SmartHome},
		{"reminders", old.Reminders, new.Reminders},
		{"dialogue", old.Dialogue, new.Dialogue},
		{"button", old.Button, new.Button},
		{"messages", old.Messages, new.Messages},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
