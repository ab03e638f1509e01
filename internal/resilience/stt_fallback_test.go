package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/pivoice/pkg/provider/stt/mock"
)

func utterance() audio.Utterance {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return audio.Utterance{Format: f, Frames: []audio.Frame{{Data: make([]byte, 640), Format: f}}}
}

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		primaryErr   error
		secondaryErr error
		wantText     string
		wantErr      bool
		wantCalls    [2]int
	}{
		{name: "primary answers", wantText: "первый", wantCalls: [2]int{1, 0}},
		{name: "failover", primaryErr: errors.New("down"), wantText: "второй", wantCalls: [2]int{1, 1}},
		{name: "all fail", primaryErr: errors.New("down"), secondaryErr: errors.New("down too"), wantErr: true, wantCalls: [2]int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &sttmock.Provider{Transcript: stt.Transcript{Text: "первый", Confidence: 1}, Err: tt.primaryErr}
			secondary := &sttmock.Provider{Transcript: stt.Transcript{Text: "второй", Confidence: 1}, Err: tt.secondaryErr}
			fb := NewSTTFallback(primary, "primary", FallbackConfig{
				Breaker: BreakerConfig{Threshold: 3},
			})
			fb.AddFallback("secondary", secondary)

			got, err := fb.Transcribe(context.Background(), utterance())
			if tt.wantErr {
				if !errors.Is(err, stt.ErrRecognitionUnavailable) || !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrRecognitionUnavailable and ErrAllFailed", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Text != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text, tt.wantText)
			}
			if n := primary.CallCount(); n != tt.wantCalls[0] {
				t.Errorf("primary calls = %d, want %d", n, tt.wantCalls[0])
			}
			if n := secondary.CallCount(); n != tt.wantCalls[1] {
				t.Errorf("secondary calls = %d, want %d", n, tt.wantCalls[1])
			}
		})
	}
}

func TestSTTFallback_EmptyUtterance(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	got, err := fb.Transcribe(context.Background(), audio.Utterance{})
	if err != nil || got.Text != "" {
		t.Fatalf("Transcribe(empty) = %+v, %v; want empty transcript", got, err)
	}
	if n := primary.CallCount(); n != 0 {
		t.Errorf("primary calls = %d, want 0", n)
	}
}
