package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/wake"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

// Defaults applied by [Config] when a field is zero.
const (
	DefaultSilenceTimeout = 1500 * time.Millisecond
	DefaultMaxUtterance   = 15 * time.Second
	DefaultASRTimeout     = 15 * time.Second
	DefaultTTSTimeout     = 10 * time.Second
	DefaultDrainTimeout   = 30 * time.Second
)

// Default spoken messages.
const (
	MessageGreeting          = "Голосовой ассистент запущен и готов к работе."
	MessageAck               = "Слушаю"
	MessageNotUnderstood     = "Я не расслышал команду"
	MessageInvalid           = "Получена некорректная команда"
	MessageRecognitionFailed = "Не удалось распознать речь, попробуйте ещё раз"
	MessageReminder          = "Напоминание: %s"
)

// Messages holds the fixed phrases the controller speaks itself. An empty
// Greeting or Ack is not spoken.
type Messages struct {
	Greeting          string
	Ack               string
	NotUnderstood     string
	Invalid           string
	RecognitionFailed string

	// Reminder is a format string with one %s verb for the reminder text.
	Reminder string
}

// DefaultMessages returns the built-in Russian phrases.
func DefaultMessages() Messages {
	return Messages{
		Greeting:          MessageGreeting,
		Ack:               MessageAck,
		NotUnderstood:     MessageNotUnderstood,
		Invalid:           MessageInvalid,
		RecognitionFailed: MessageRecognitionFailed,
		Reminder:          MessageReminder,
	}
}

// Config holds the controller parameters.
type Config struct {
	// SilenceTimeout is the trailing silence that ends an utterance.
	SilenceTimeout time.Duration

	// MaxUtterance bounds an utterance. Longer speech is truncated.
	MaxUtterance time.Duration

	// PreRoll is the audio kept before a trigger and prepended to the
	// utterance.
	PreRoll time.Duration

	// ConfidenceThreshold is the minimum transcript confidence routed to a
	// handler.
	ConfidenceThreshold float64

	ASRTimeout time.Duration

	// TTSTimeout bounds the wait for the first chunk of a synthesis and for
	// each chunk after it. A synthesis that stalls is cut off and whatever
	// audio arrived is played.
	TTSTimeout time.Duration

	// DrainTimeout caps the shutdown drain.
	DrainTimeout time.Duration

	Voice tts.VoiceProfile

	// VAD configures the endpointing session. SampleRate must match the
	// source after downmixing to mono.
	VAD vad.Config

	Messages Messages
}

func (c *Config) setDefaults() {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.ASRTimeout <= 0 {
		c.ASRTimeout = DefaultASRTimeout
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = DefaultTTSTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	def := DefaultMessages()
	if c.Messages.NotUnderstood == "" {
		c.Messages.NotUnderstood = def.NotUnderstood
	}
	if c.Messages.Invalid == "" {
		c.Messages.Invalid = def.Invalid
	}
	if c.Messages.RecognitionFailed == "" {
		c.Messages.RecognitionFailed = def.RecognitionFailed
	}
	if c.Messages.Reminder == "" {
		c.Messages.Reminder = def.Reminder
	}
}

func (c Config) validate() error {
	var errs []error
	if c.PreRoll < 0 {
		errs = append(errs, errors.New("pre-roll must not be negative"))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold %.2f out of range [0,1]", c.ConfidenceThreshold))
	}
	if c.SilenceTimeout > c.MaxUtterance {
		errs = append(errs, fmt.Errorf("silence timeout %s exceeds max utterance %s", c.SilenceTimeout, c.MaxUtterance))
	}
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Detector classifies microphone frames into wake and stop detections.
// Process and Reset are only called from the frame pump goroutine.
type Detector interface {
	Process(ctx context.Context, f audio.Frame) wake.Detection
	Reset()
}

// Router maps a transcript onto an intent.
type Router interface {
	Route(t stt.Transcript) intent.Intent
}

// Dispatcher runs the handler for an intent. The returned response is
// always speakable, also when err is non-nil.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent, dc handler.DialogueContext) (handler.Response, error)
}

// UtteranceRecorder persists captured utterances for debugging.
type UtteranceRecorder interface {
	Save(u audio.Utterance) (string, error)
}

// Deps are the collaborators of a [Controller]. Recorder, Indicator,
// Reminders and Dialogue are optional.
type Deps struct {
	Source     audio.Source
	Speaker    audio.Speaker
	Detector   Detector
	VAD        vad.Engine
	STT        stt.Provider
	TTS        tts.Provider
	Router     Router
	Dispatcher Dispatcher

	Reminders <-chan reminder.Reminder
	Indicator wake.Indicator
	Recorder  UtteranceRecorder
	Dialogue  *Dialogue
}

func (d Deps) validate() error {
	var errs []error
	if d.Source == nil {
		errs = append(errs, errors.New("source must not be nil"))
	}
	if d.Speaker == nil {
		errs = append(errs, errors.New("speaker must not be nil"))
	}
	if d.Detector == nil {
		errs = append(errs, errors.New("detector must not be nil"))
	}
	if d.VAD == nil {
		errs = append(errs, errors.New("vad engine must not be nil"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("stt provider must not be nil"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("tts provider must not be nil"))
	}
	if d.Router == nil {
		errs = append(errs, errors.New("router must not be nil"))
	}
	if d.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher must not be nil"))
	}
	return errors.Join(errs...)
}
