// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one captured [audio.Utterance] into a [Transcript].
// Recognition is batch: the session controller only hands an utterance over
// once capture has ended (silence, stop phrase or max duration), so there is
// no partial/final distinction.
//
// Every backend failure, including a deadline expiring, is reported wrapped
// in [ErrRecognitionUnavailable] so the caller can answer with the fixed
// "could not recognise" response without inspecting backend-specific errors.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

// ErrRecognitionUnavailable is returned when the backend cannot produce a
// transcript (network failure, timeout, model error).
var ErrRecognitionUnavailable = errors.New("stt: recognition unavailable")

// Transcript is the immutable result of recognising one utterance.
type Transcript struct {
	// Text is the recognised speech, trimmed of surrounding whitespace.
	Text string

	// Confidence in [0, 1]. Backends that do not report confidence set 1.
	Confidence float64

	// Language is the language the backend recognised, if reported.
	Language string

	// Duration is the length of the audio that was recognised.
	Duration time.Duration
}

// Valid reports whether the transcript may be routed: it must contain text
// and meet the confidence threshold.
func (t Transcript) Valid(threshold float64) bool {
	return strings.TrimSpace(t.Text) != "" && t.Confidence >= threshold
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe recognises u. An empty utterance yields an empty transcript
	// and no error. The returned error, if any, wraps
	// [ErrRecognitionUnavailable].
	Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error)
}

// Unavailable wraps err so that it matches [ErrRecognitionUnavailable] while
// keeping the backend cause (including [context.DeadlineExceeded]) reachable
// through errors.Is.
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrRecognitionUnavailable, err)
}
