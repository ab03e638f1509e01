// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own state (previous
// spectrum, noise floor, hangover counter) so that independent consumers of
// the microphone (wake detection and end-of-utterance detection) do not
// influence each other.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which makes it suitable for the capture loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when a frame does not match the
// configured frame size.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// mono PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a silent stream
	// switches to speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a speaking stream
	// counts a frame as silent. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64

	// HangoverFrames is the number of consecutive silent frames tolerated
	// before speech is declared ended. Zero ends speech on the first silent
	// frame.
	HangoverFrames int
}

// FrameBytes returns the expected size of one mono 16-bit frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d ms", c.FrameSizeMs))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %.2f out of range [0,1]", c.SpeechThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %.2f must be in [0, speech threshold]", c.SilenceThreshold))
	}
	if c.HangoverFrames < 0 {
		errs = append(errs, errors.New("hangover frames must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("vad: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// CheckFrame returns [ErrFrameSize] for an empty or odd-length PCM frame.
func CheckFrame(frame []byte) error {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return fmt.Errorf("%w: %d bytes", ErrFrameSize, len(frame))
	}
	return nil
}

// Clamp limits p to [0, 1].
func Clamp(p float64) float64 {
	return min(max(p, 0), 1)
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// IsSpeech reports whether the frame belongs to a speech segment.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the event type name.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}

// Tracker turns per-frame speech probabilities into start/continue/end
// events using the hysteresis and hangover of a [Config]. Engines embed one
// per session.
type Tracker struct {
	speech   float64
	silence  float64
	hangover int

	inSpeech bool
	below    int
}

// NewTracker returns a tracker for cfg.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		speech:   cfg.SpeechThreshold,
		silence:  cfg.SilenceThreshold,
		hangover: cfg.HangoverFrames,
	}
}

// Update consumes the probability of the next frame.
func (t *Tracker) Update(p float64) VADEvent {
	ev := VADEvent{Probability: p}
	if !t.inSpeech {
		if p >= t.speech {
			t.inSpeech = true
			t.below = 0
			ev.Type = VADSpeechStart
		} else {
			ev.Type = VADSilence
		}
		return ev
	}
	if p >= t.silence {
		t.below = 0
		ev.Type = VADSpeechContinue
		return ev
	}
	t.below++
	if t.below > t.hangover {
		t.inSpeech = false
		t.below = 0
		ev.Type = VADSpeechEnd
		return ev
	}
	ev.Type = VADSpeechContinue
	return ev
}

// InSpeech reports whether the last update left the stream in speech.
func (t *Tracker) InSpeech() bool { return t.inSpeech }

// Reset returns the tracker to silence.
func (t *Tracker) Reset() {
	t.inSpeech = false
	t.below = 0
}
