package session

import (
	"fmt"

	"github.com/MrWong99/pivoice/internal/wake"
)

// State is the lifecycle state of a [Controller].
type State int32

const (
	// StateIdle: listening for a wake phrase or button press.
	StateIdle State = iota

	// StateCapturing: recording a command utterance.
	StateCapturing

	// StateProcessing: recognising, routing and handling the utterance.
	StateProcessing

	// StateSpeaking: the speaker is playing a response or reminder.
	StateSpeaking

	// StateShuttingDown: draining to the nearest safe boundary before Run
	// returns.
	StateShuttingDown
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// indication maps a state onto the status indicator.
func (s State) indication() wake.Indication {
	switch s {
	case StateIdle:
		return wake.IndicateWaiting
	case StateCapturing:
		return wake.IndicateListening
	case StateProcessing:
		return wake.IndicateProcessing
	case StateSpeaking:
		return wake.IndicateSpeaking
	default:
		return wake.IndicateOff
	}
}

// TriggerSource identifies what started a capture.
type TriggerSource string

const (
	TriggerWake   TriggerSource = "wake"
	TriggerButton TriggerSource = "button"
	TriggerStop   TriggerSource = "stop"
)

// Transition records one observable state change.
type Transition struct {
	From   State
	To     State
	Reason string

	// Cycle is the command cycle that was current when the transition
	// happened. Zero before the first capture.
	Cycle uint64
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Reason)
}
