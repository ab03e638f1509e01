// Package energy provides a VAD engine that scores frames by RMS loudness.
// It needs no model and no calibration, which makes it the fallback engine
// for quiet rooms.
package energy

import (
	"fmt"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// DefaultReference is the normalised RMS level mapped to probability 1.
const DefaultReference = 0.02

// Engine creates RMS-scoring sessions.
type Engine struct {
	ref float64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithReference sets the normalised RMS level (0–1 of full scale) that maps
// to speech probability 1.
func WithReference(ref float64) Option {
	return func(e *Engine) {
		if ref > 0 {
			e.ref = ref
		}
	}
}

// New returns an energy engine.
func New(opts ...Option) *Engine {
	e := &Engine{ref: DefaultReference}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &session{ref: e.ref, tracker: vad.NewTracker(cfg)}, nil
}

type session struct {
	ref     float64
	tracker *vad.Tracker
	closed  bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy: session closed")
	}
	if err := vad.CheckFrame(frame); err != nil {
		return vad.VADEvent{}, err
	}
	level := audio.RMS(frame) / 32768
	return s.tracker.Update(vad.Clamp(level / s.ref)), nil
}

func (s *session) Reset() { s.tracker.Reset() }

func (s *session) Close() error {
	s.closed = true
	return nil
}
