package main

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/internal/config"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":     "en",
		"length_scale": 1.2,
		"speaker":      3,
		"threads":      4.0,
		"timeout":      "45s",
		"broken":       "soon",
	}

	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString(language) = %q, want en", got)
	}
	if got := optString(opts, "speaker"); got != "" {
		t.Errorf("optString(speaker) = %q, want empty for a number", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
	if got := optStringOr(opts, "missing", defaultLanguage); got != defaultLanguage {
		t.Errorf("optStringOr = %q, want %q", got, defaultLanguage)
	}
	if got := optFloat(opts, "length_scale"); got != 1.2 {
		t.Errorf("optFloat(length_scale) = %v, want 1.2", got)
	}
	if got := optFloat(opts, "speaker"); got != 3 {
		t.Errorf("optFloat(speaker) = %v, want 3", got)
	}
	if got := optInt(opts, "threads"); got != 4 {
		t.Errorf("optInt(threads) = %d, want 4", got)
	}
	if got := optDuration(opts, "timeout"); got != 45*time.Second {
		t.Errorf("optDuration(timeout) = %v, want 45s", got)
	}
	if got := optDuration(opts, "broken"); got != 0 {
		t.Errorf("optDuration(broken) = %v, want 0", got)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltins(reg)

	for kind, names := range config.ValidProviderNames {
		got := reg.Names(kind)
		for _, name := range names {
			if name == "rules" {
				continue
			}
			if !slices.Contains(got, name) {
				t.Errorf("%s provider %q not registered", kind, name)
			}
		}
	}
	if got := reg.Names("smarthome"); !slices.Equal(got, []string{"gpio", "mqtt"}) {
		t.Errorf("smarthome = %v, want [gpio mqtt]", got)
	}
	if got := reg.Names("reminder_store"); !slices.Equal(got, []string{"postgres", "sqlite"}) {
		t.Errorf("reminder_store = %v, want [postgres sqlite]", got)
	}
}
