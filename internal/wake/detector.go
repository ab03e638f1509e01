// Package wake turns the microphone stream into trigger events.
//
// A [Detector] delimits short phrases with a VAD session, hands each closed
// phrase to a [Spotter] for transcription and compares the text against the
// configured wake and stop phrases. A [Button] delivers the same trigger from
// a GPIO input, and an [LED] mirrors the assistant state on a GPIO output.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/internal/transcript/phonetic"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

// Kind classifies a detection.
type Kind int

const (
	// NoMatch means the frame did not complete a known phrase.
	NoMatch Kind = iota

	// WakeMatch means a wake phrase was spoken.
	WakeMatch

	// StopMatch means a stop phrase was spoken.
	StopMatch
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "none"
	case WakeMatch:
		return "wake"
	case StopMatch:
		return "stop"
	default:
		return "unknown"
	}
}

// Detection is the result of [Detector.Process] for a single frame.
type Detection struct {
	Kind       Kind
	Confidence float64

	// Phrase is the configured phrase that matched.
	Phrase string

	// Text is the spotted transcript the match was made on.
	Text string
}

// Config holds the detector parameters.
type Config struct {
	WakePhrases []string
	StopPhrases []string

	// MinPhrase discards shorter speech bursts (clicks, coughs).
	MinPhrase time.Duration

	// MaxPhrase bounds the spotted window. Longer speech is spotted once the
	// bound is reached and the remainder is ignored until the speech ends.
	MaxPhrase time.Duration

	// PreRoll is the audio kept before the VAD onset and prepended to the
	// phrase so the first syllable is not clipped.
	PreRoll time.Duration

	// SpotTimeout bounds a single Spot call.
	SpotTimeout time.Duration

	// VAD configures the phrase-delimiting session. Its sample rate must
	// match the microphone.
	VAD vad.Config
}

func (c *Config) setDefaults() {
	if c.MinPhrase <= 0 {
		c.MinPhrase = 300 * time.Millisecond
	}
	if c.MaxPhrase <= 0 {
		c.MaxPhrase = 3 * time.Second
	}
	if c.SpotTimeout <= 0 {
		c.SpotTimeout = 2 * time.Second
	}
}

// Option configures a [Detector].
type Option func(*Detector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(d *Detector) {
		d.matcher = m
	}
}

// WithObserver registers a callback invoked after every spot attempt with the
// spotted text (empty on error) and the resulting detection.
func WithObserver(fn func(text string, det Detection)) Option {
	return func(d *Detector) {
		d.observe = fn
	}
}

// Detector classifies frames into wake and stop detections. It keeps a
// rolling phrase window and is owned by a single goroutine; only
// [Detector.SetPhrases] may be called concurrently. Spotting itself runs on a
// worker goroutine so that a slow recogniser never holds up the frames.
type Detector struct {
	cfg     Config
	spotter Spotter
	matcher *phonetic.Matcher
	observe func(string, Detection)
	sess    vad.SessionHandle

	mu   sync.RWMutex
	wake []string
	stop []string

	ring      *audio.Ring
	phrase    []audio.Frame
	speechDur time.Duration
	overflow  bool

	// Spotting runs on a worker goroutine. gen invalidates results of a
	// spot started before the last Reset.
	gen        uint64
	inflight   bool
	cancelSpot context.CancelFunc
	next       *window
	results    chan spotResult
}

// window is a closed phrase waiting to be spotted.
type window struct {
	ctx context.Context
	u   audio.Utterance
}

type spotResult struct {
	gen  uint64
	text string
	err  error
}

// New creates a Detector with a session from engine.
func New(cfg Config, engine vad.Engine, spotter Spotter, opts ...Option) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("wake: vad engine must not be nil")
	}
	if spotter == nil {
		return nil, errors.New("wake: spotter must not be nil")
	}
	if len(cfg.WakePhrases) == 0 {
		return nil, errors.New("wake: at least one wake phrase is required")
	}
	cfg.setDefaults()

	sess, err := engine.NewSession(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("wake: create vad session: %w", err)
	}

	d := &Detector{
		cfg:     cfg,
		spotter: spotter,
		matcher: phonetic.New(),
		sess:    sess,
		wake:    slices.Clone(cfg.WakePhrases),
		stop:    slices.Clone(cfg.StopPhrases),
		results: make(chan spotResult, 1),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetPhrases installs new wake and stop phrase lists. Safe for concurrent
// use with Process.
func (d *Detector) SetPhrases(wakePhrases, stopPhrases []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wake = slices.Clone(wakePhrases)
	d.stop = slices.Clone(stopPhrases)
}

// Process feeds one frame and never waits for the spotter. A closed phrase
// is spotted on a worker goroutine; its detection is returned by the first
// Process call after the spot has finished. While a spot runs, only the most
// recent closed phrase is kept for the next one.
func (d *Detector) Process(ctx context.Context, f audio.Frame) Detection {
	det := d.collect()
	d.feed(ctx, f)
	return det
}

// Spotting reports whether a spot is running or its result has not been
// returned yet. Like Process it belongs to the owning goroutine.
func (d *Detector) Spotting() bool {
	return d.inflight
}

func (d *Detector) feed(ctx context.Context, f audio.Frame) {
	if d.ring == nil {
		d.ring = audio.NewRing(d.cfg.PreRoll, f.Duration())
	}

	mono := f.Data
	if f.Format.Channels > 1 {
		mono = audio.Downmix(f.Data, f.Format.Channels)
	}
	ev, err := d.sess.ProcessFrame(mono)
	if err != nil {
		slog.Debug("wake: vad frame rejected", "seq", f.Seq, "err", err)
		return
	}

	switch ev.Type {
	case vad.VADSpeechStart:
		d.phrase = append(d.phrase[:0], d.ring.Frames()...)
		d.phrase = append(d.phrase, f)
		d.ring.Reset()
		d.speechDur = f.Duration()
		d.overflow = false

	case vad.VADSpeechContinue:
		if d.overflow || len(d.phrase) == 0 {
			return
		}
		d.phrase = append(d.phrase, f)
		d.speechDur += f.Duration()
		if d.speechDur >= d.cfg.MaxPhrase {
			d.overflow = true
			d.submit(ctx, f.Format)
		}

	case vad.VADSpeechEnd:
		if d.overflow || len(d.phrase) == 0 || d.speechDur < d.cfg.MinPhrase {
			d.resetPhrase()
			return
		}
		d.submit(ctx, f.Format)

	case vad.VADSilence:
		d.ring.Add(f)
	}
}

// Reset drops the phrase window, VAD state and any spot in flight, e.g.
// after the controller consumed a detection.
func (d *Detector) Reset() {
	d.resetPhrase()
	d.overflow = false
	if d.ring != nil {
		d.ring.Reset()
	}
	d.sess.Reset()

	d.gen++
	d.next = nil
	if d.cancelSpot != nil {
		d.cancelSpot()
	}
}

// Close cancels a running spot and releases the VAD session.
func (d *Detector) Close() error {
	if d.cancelSpot != nil {
		d.cancelSpot()
	}
	return d.sess.Close()
}

func (d *Detector) resetPhrase() {
	d.phrase = d.phrase[:0]
	d.speechDur = 0
}

// submit hands the current phrase to the spotter, or parks it when a spot is
// already running.
func (d *Detector) submit(ctx context.Context, format audio.Format) {
	w := &window{ctx: ctx, u: audio.Utterance{
		Frames: slices.Clone(d.phrase),
		Format: format,
		Start:  d.phrase[0].Timestamp,
		End:    audio.EndSilence,
	}}
	d.resetPhrase()

	if d.inflight {
		if d.next != nil {
			slog.Debug("wake: phrase superseded while spotting", "frames", len(d.next.u.Frames))
		}
		d.next = w
		return
	}
	d.start(w)
}

func (d *Detector) start(w *window) {
	sctx, cancel := context.WithTimeout(w.ctx, d.cfg.SpotTimeout)
	d.inflight = true
	d.cancelSpot = cancel

	gen := d.gen
	go func() {
		defer cancel()
		text, err := d.spotter.Spot(sctx, w.u)
		d.results <- spotResult{gen: gen, text: text, err: err}
	}()
}

// collect returns the detection of a finished spot, if any, and starts the
// parked phrase.
func (d *Detector) collect() Detection {
	if !d.inflight {
		return Detection{}
	}
	var res spotResult
	select {
	case res = <-d.results:
	default:
		return Detection{}
	}
	d.inflight = false
	d.cancelSpot()
	d.cancelSpot = nil
	if w := d.next; w != nil {
		d.next = nil
		d.start(w)
	}

	if res.gen != d.gen {
		return Detection{}
	}
	if res.err != nil {
		slog.Debug("wake: spot failed", "err", res.err, "timeout", errors.Is(res.err, context.DeadlineExceeded))
		if d.observe != nil {
			d.observe("", Detection{})
		}
		return Detection{}
	}

	det := d.Classify(res.text)
	if det.Kind != NoMatch {
		slog.Debug("wake: phrase detected", "kind", det.Kind, "phrase", det.Phrase, "confidence", det.Confidence)
	}
	if d.observe != nil {
		d.observe(res.text, det)
	}
	return det
}

// Classify matches text against the current phrase lists. A wake match wins
// ties with a stop match.
func (d *Detector) Classify(text string) Detection {
	d.mu.RLock()
	wakePhrases, stopPhrases := d.wake, d.stop
	d.mu.RUnlock()

	wp, wc, wok := d.matcher.MatchPhrase(text, wakePhrases)
	sp, sc, sok := d.matcher.MatchPhrase(text, stopPhrases)
	switch {
	case wok && (!sok || wc >= sc):
		return Detection{Kind: WakeMatch, Confidence: wc, Phrase: wp, Text: text}
	case sok:
		return Detection{Kind: StopMatch, Confidence: sc, Phrase: sp, Text: text}
	default:
		return Detection{Text: text}
	}
}
