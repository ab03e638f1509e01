package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Silence(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := whisper.NewNative(modelPath, whisper.WithNativeLanguage("ru"), whisper.WithNativeThreads(2))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	u := audio.Utterance{
		Format: format,
		Frames: []audio.Frame{{Data: make([]byte, format.Bytes(1e9)), Format: format}},
	}
	if _, err := p.Transcribe(context.Background(), u); err != nil {
		t.Fatalf("Transcribe(silence): %v", err)
	}
}

func TestNativeTranscribe_CancelledContext(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := whisper.NewNative(modelPath)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	u := audio.Utterance{Format: format, Frames: []audio.Frame{{Data: make([]byte, 320), Format: format}}}
	if _, err := p.Transcribe(ctx, u); err == nil {
		t.Fatal("Transcribe with cancelled context: err = nil, want error")
	}
}
