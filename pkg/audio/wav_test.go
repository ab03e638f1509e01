package audio_test

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/pivoice/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	samples := []int16{0, 100, -100, 32767, -32768}

	wavData, err := audio.EncodeWAV(audio.PCM(samples), format)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if !bytes.HasPrefix(wavData, []byte("RIFF")) {
		t.Fatalf("EncodeWAV output does not start with RIFF header")
	}

	pcm, gotFormat, err := audio.DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFormat != format {
		t.Errorf("format = %v, want %v", gotFormat, format)
	}
	if got := audio.Samples(pcm); !slices.Equal(got, samples) {
		t.Errorf("samples = %v, want %v", got, samples)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.DecodeWAV([]byte("definitely not a wav")); err == nil {
		t.Fatal("DecodeWAV(garbage) error = nil, want error")
	}
}

func TestRecorder_Save(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	rec, err := audio.NewRecorder(fs, "/rec")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	f := audio.Format{SampleRate: 16000, Channels: 1}
	u := audio.Utterance{
		Format: f,
		Frames: []audio.Frame{{Data: audio.PCM(make([]int16, 160)), Format: f}},
		End:    audio.EndSilence,
	}
	p, err := rec.Save(u)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(p, "/rec/") || !strings.HasSuffix(p, "-silence.wav") {
		t.Errorf("path = %q, want /rec/...-silence.wav", p)
	}
	info, err := fs.Stat(p)
	if err != nil {
		t.Fatalf("Stat(%q): %v", p, err)
	}
	if info.Size() <= 320 {
		t.Errorf("file size = %d, want > 320 (header + samples)", info.Size())
	}
}

func TestRing(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(60*time.Millisecond, 20*time.Millisecond)
	for i := range 5 {
		r.Add(audio.Frame{Seq: uint64(i)})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	var seqs []uint64
	for _, f := range r.Frames() {
		seqs = append(seqs, f.Seq)
	}
	if !slices.Equal(seqs, []uint64{2, 3, 4}) {
		t.Errorf("Frames seqs = %v, want [2 3 4]", seqs)
	}

	r.Reset()
	if r.Len() != 0 || len(r.Frames()) != 0 {
		t.Errorf("after Reset Len = %d, want 0", r.Len())
	}
}

func TestRing_ZeroSpan(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(0, 20*time.Millisecond)
	r.Add(audio.Frame{Seq: 1})
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if got := r.Frames(); len(got) != 0 {
		t.Errorf("Frames = %v, want empty", got)
	}
}

func TestSegment_FinishOnce(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegment("s", audio.Chunks(nil, 1), audio.Format{SampleRate: 16000, Channels: 1})
	seg.Finish(true)
	seg.Finish(false)

	select {
	case <-seg.Done():
	default:
		t.Fatal("Done not closed after Finish")
	}
	if !seg.Interrupted() {
		t.Error("Interrupted = false, want true (first Finish wins)")
	}
}
