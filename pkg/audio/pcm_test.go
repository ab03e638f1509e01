package audio_test

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

func TestSamplesPCMInverse(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.Samples(audio.PCM(in))
	if !slices.Equal(got, in) {
		t.Errorf("Samples(PCM(x)) = %v, want %v", got, in)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	stereo := audio.PCM([]int16{100, 200, -100, -200})
	got := audio.Samples(audio.Downmix(stereo, 2))
	want := []int16{150, -150}
	if !slices.Equal(got, want) {
		t.Errorf("Downmix = %v, want %v", got, want)
	}
}

func TestDownmix_NoOverflow(t *testing.T) {
	t.Parallel()

	stereo := audio.PCM([]int16{32767, 32767})
	got := audio.Samples(audio.Downmix(stereo, 2))
	if got[0] != 32767 {
		t.Errorf("Downmix(max, max) = %d, want 32767", got[0])
	}
}

func TestUpmix(t *testing.T) {
	t.Parallel()

	got := audio.Samples(audio.Upmix(audio.PCM([]int16{7, -7}), 2))
	want := []int16{7, 7, -7, -7}
	if !slices.Equal(got, want) {
		t.Errorf("Upmix = %v, want %v", got, want)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     int
		dst     int
		samples int
		want    int
	}{
		{name: "same rate", src: 16000, dst: 16000, samples: 160, want: 160},
		{name: "downsample", src: 22050, dst: 16000, samples: 2205, want: 1600},
		{name: "upsample", src: 16000, dst: 48000, samples: 160, want: 480},
		{name: "invalid rate", src: 0, dst: 16000, samples: 10, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pcm := audio.PCM(make([]int16, tt.samples))
			got := len(audio.Resample(pcm, tt.src, tt.dst)) / 2
			if got != tt.want {
				t.Errorf("Resample(%d -> %d) samples = %d, want %d", tt.src, tt.dst, got, tt.want)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM([]int16{0, 100})
	got := audio.Samples(audio.Resample(pcm, 8000, 16000))
	want := []int16{0, 50, 100, 100}
	if !slices.Equal(got, want) {
		t.Errorf("Resample = %v, want %v", got, want)
	}
}

func TestConvert_SameFormatIsIdentity(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM([]int16{1, 2, 3})
	f := audio.Format{SampleRate: 16000, Channels: 1}
	got := audio.Convert(pcm, f, f)
	if &got[0] != &pcm[0] {
		t.Error("Convert with equal formats copied the buffer, want the input returned")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	got := audio.RMS(audio.PCM([]int16{1000, -1000, 1000, -1000}))
	if math.Abs(got-1000) > 0.001 {
		t.Errorf("RMS(square 1000) = %f, want 1000", got)
	}
}

func TestFloat32s(t *testing.T) {
	t.Parallel()

	got := audio.Float32s(audio.PCM([]int16{16384, -32768}))
	if got[0] != 0.5 || got[1] != -1 {
		t.Errorf("Float32s = %v, want [0.5 -1]", got)
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 10)
	var sizes []int
	for c := range audio.Chunks(pcm, 4) {
		sizes = append(sizes, len(c))
	}
	if !slices.Equal(sizes, []int{4, 4, 2}) {
		t.Errorf("chunk sizes = %v, want [4 4 2]", sizes)
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := f.Bytes(20 * time.Millisecond); got != 640 {
		t.Errorf("Bytes(20ms) = %d, want 640", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestUtterance(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	u := audio.Utterance{
		Format: f,
		Frames: []audio.Frame{
			{Data: []byte{1, 2}, Format: f},
			{Data: []byte{3, 4}, Format: f},
		},
	}
	if u.Empty() {
		t.Error("Empty() = true, want false")
	}
	if got := u.PCM(); !slices.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("PCM() = %v, want [1 2 3 4]", got)
	}
	if !(audio.Utterance{}).Empty() {
		t.Error("zero Utterance Empty() = false, want true")
	}
}
