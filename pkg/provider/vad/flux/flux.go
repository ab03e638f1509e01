// Package flux provides a VAD engine based on spectral flux: the summed
// positive change of the magnitude spectrum between consecutive frames.
// Speech onsets produce a flux jump well above the running floor, while
// steady hum and fan noise do not. Once speech has started, frame energy
// above the noise floor keeps the segment open between syllables.
package flux

import (
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/dsputils"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

const (
	// DefaultOnsetRatio is the flux/floor ratio that maps to probability 0.5.
	DefaultOnsetRatio = 1.75

	// DefaultMinEnergy is the normalised RMS below which a frame is always
	// silence, whatever its flux.
	DefaultMinEnergy = 0.002

	floorAlpha = 0.05
	minFloor   = 1e-4
)

// Engine creates spectral-flux sessions.
type Engine struct {
	onset     float64
	minEnergy float64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithOnsetRatio sets the ratio over the running floor that counts as a
// speech onset. Values ≤ 1 are ignored.
func WithOnsetRatio(r float64) Option {
	return func(e *Engine) {
		if r > 1 {
			e.onset = r
		}
	}
}

// WithMinEnergy sets the energy gate below which frames are silence.
func WithMinEnergy(level float64) Option {
	return func(e *Engine) {
		if level >= 0 {
			e.minEnergy = level
		}
	}
}

// New returns a flux engine.
func New(opts ...Option) *Engine {
	e := &Engine{onset: DefaultOnsetRatio, minEnergy: DefaultMinEnergy}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flux: %w", err)
	}
	return &session{
		onset:     e.onset,
		minEnergy: e.minEnergy,
		tracker:   vad.NewTracker(cfg),
	}, nil
}

type session struct {
	onset     float64
	minEnergy float64
	tracker   *vad.Tracker

	prev       []float64
	fluxFloor  float64
	noiseLevel float64
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("flux: session closed")
	}
	if err := vad.CheckFrame(frame); err != nil {
		return vad.VADEvent{}, err
	}

	mags := spectrum(frame)
	fl := Flux(s.prev, mags)
	s.prev = mags
	level := audio.RMS(frame) / 32768

	var p float64
	if level >= s.minEnergy {
		p = s.score(fl / max(s.fluxFloor, minFloor))
		if s.tracker.InSpeech() {
			p = max(p, s.score(level/max(s.noiseLevel, s.minEnergy)))
		}
	}

	ev := s.tracker.Update(p)
	if !ev.IsSpeech() {
		s.fluxFloor += floorAlpha * (fl - s.fluxFloor)
		s.noiseLevel += floorAlpha * (level - s.noiseLevel)
	}
	return ev, nil
}

// score maps a ratio over the floor to a probability; the onset ratio
// lands at 0.5.
func (s *session) score(ratio float64) float64 {
	return vad.Clamp((ratio - 1) / (2 * (s.onset - 1)))
}

func (s *session) Reset() {
	s.tracker.Reset()
	s.prev = nil
	s.fluxFloor = 0
	s.noiseLevel = 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// spectrum returns the normalised magnitude spectrum of a Hann-windowed
// frame, zero-padded to a power of two.
func spectrum(frame []byte) []float64 {
	samples := audio.Samples(frame)
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v) / 32768
	}
	window.Apply(x, window.Hann)
	x = dsputils.ZeroPadF(x, dsputils.NextPowerOf2(len(x)))

	bins := fft.FFTReal(x)
	n := len(bins)/2 + 1
	mags := make([]float64, n)
	for i := range n {
		mags[i] = cmplx.Abs(bins[i]) / float64(len(x))
	}
	return mags
}

// Flux returns the summed positive magnitude change from prev to cur. With no
// previous spectrum every bin counts as new energy.
func Flux(prev, cur []float64) float64 {
	var sum float64
	for i, m := range cur {
		var p float64
		if i < len(prev) {
			p = prev[i]
		}
		if d := m - p; d > 0 {
			sum += d
		}
	}
	return sum
}
