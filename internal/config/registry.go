package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/pivoice/internal/handler/smarthome"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures per kind. Values returned by the smart home and reminder
// store factories may implement io.Closer.
type (
	STTFactory       func(ProviderEntry) (stt.Provider, error)
	TTSFactory       func(ProviderEntry) (tts.Provider, error)
	LLMFactory       func(ProviderEntry) (llm.Provider, error)
	VADFactory       func(ProviderEntry) (vad.Engine, error)
	SmartHomeFactory func(SmartHomeConfig) (smarthome.Controller, error)
	StoreFactory     func(context.Context, RemindersConfig) (reminder.Store, error)
)

// Registry maps backend names to their constructors for each kind. It is
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]STTFactory
	tts       map[string]TTSFactory
	llm       map[string]LLMFactory
	vad       map[string]VADFactory
	smarthome map[SmartHomeBackend]SmartHomeFactory
	store     map[ReminderStore]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]STTFactory),
		tts:       make(map[string]TTSFactory),
		llm:       make(map[string]LLMFactory),
		vad:       make(map[string]VADFactory),
		smarthome: make(map[SmartHomeBackend]SmartHomeFactory),
		store:     make(map[ReminderStore]StoreFactory),
	}
}

// RegisterSTT registers a recogniser factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, f STTFactory) { register(r, r.stt, name, f) }

// RegisterTTS registers a synthesiser factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) { register(r, r.tts, name, f) }

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, f LLMFactory) { register(r, r.llm, name, f) }

// RegisterVAD registers a voice activity engine factory under name.
func (r *Registry) RegisterVAD(name string, f VADFactory) { register(r, r.vad, name, f) }

// RegisterSmartHome registers a device controller factory for backend.
func (r *Registry) RegisterSmartHome(backend SmartHomeBackend, f SmartHomeFactory) {
	register(r, r.smarthome, backend, f)
}

// RegisterStore registers a reminder store factory.
func (r *Registry) RegisterStore(store ReminderStore, f StoreFactory) {
	register(r, r.store, store, f)
}

// CreateSTT instantiates the recogniser named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS instantiates the synthesiser named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM instantiates the language model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateVAD instantiates the engine named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	f, err := lookup(r, r.vad, "vad", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSmartHome connects the controller selected by cfg.Backend.
func (r *Registry) CreateSmartHome(cfg SmartHomeConfig) (smarthome.Controller, error) {
	f, err := lookup(r, r.smarthome, "smarthome", cfg.Backend)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// CreateStore opens the reminder store selected by cfg.Store.
func (r *Registry) CreateStore(ctx context.Context, cfg RemindersConfig) (reminder.Store, error) {
	f, err := lookup(r, r.store, "reminder_store", cfg.Store)
	if err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// Names returns the sorted registered names for kind ("stt", "tts", "llm",
// "vad", "smarthome" or "reminder_store").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	switch kind {
	case "stt":
		names = keys(r.stt)
	case "tts":
		names = keys(r.tts)
	case "llm":
		names = keys(r.llm)
	case "vad":
		names = keys(r.vad)
	case "smarthome":
		names = keys(r.smarthome)
	case "reminder_store":
		names = keys(r.store)
	}
	slices.Sort(names)
	return names
}

func register[K ~string, F any](r *Registry, m map[K]F, name K, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func lookup[K ~string, F any](r *Registry, m map[K]F, kind string, name K) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s %q", ErrProviderNotRegistered, kind, name)
	}
	return f, nil
}

func keys[K ~string, F any](m map[K]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	return out
}
