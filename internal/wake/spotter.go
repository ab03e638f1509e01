package wake

import (
	"context"
	"fmt"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Spotter transcribes a short phrase window. Implementations should favour
// latency over accuracy.
type Spotter interface {
	Spot(ctx context.Context, u audio.Utterance) (string, error)
}

// SpotterFunc adapts a function to [Spotter].
type SpotterFunc func(ctx context.Context, u audio.Utterance) (string, error)

// Spot implements Spotter.
func (f SpotterFunc) Spot(ctx context.Context, u audio.Utterance) (string, error) {
	return f(ctx, u)
}

// STTSpotter spots phrases with any speech recogniser, typically a small
// local whisper model.
type STTSpotter struct {
	Provider stt.Provider
}

var _ Spotter = (*STTSpotter)(nil)

// Spot implements Spotter. Confidence is ignored: a wrong guess only costs a
// spurious capture.
func (s *STTSpotter) Spot(ctx context.Context, u audio.Utterance) (string, error) {
	t, err := s.Provider.Transcribe(ctx, u)
	if err != nil {
		return "", fmt.Errorf("wake: spot: %w", err)
	}
	return t.Text, nil
}
