package audio

import (
	"encoding/binary"
	"math"
)

// Samples decodes little-endian int16 PCM into samples. A trailing odd byte
// is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian int16 PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s converts int16 PCM to float32 samples normalised to [-1, 1], the
// representation whisper.cpp and the spectral VAD expect.
func Float32s(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square amplitude of int16 PCM in the raw sample
// scale (0 to 32768). Returns 0 for empty input.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Downmix averages interleaved channels into mono. Mono input is returned
// unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(in[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return PCM(out)
}

// Upmix duplicates mono samples into the requested channel count.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	out := make([]int16, 0, len(in)*channels)
	for _, s := range in {
		for range channels {
			out = append(out, s)
		}
	}
	return PCM(out)
}

// Resample converts mono int16 PCM from srcRate to dstRate with linear
// interpolation. The input is returned unchanged when the rates match or
// either rate is not positive.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := Samples(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		a := float64(in[idx])
		b := a
		if idx+1 < len(in) {
			b = float64(in[idx+1])
		}
		out[i] = int16(a + (b-a)*frac)
	}
	return PCM(out)
}

// Convert re-shapes PCM from one format to another: downmix, resample, then
// upmix, so resampling always runs on a single channel.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	mono := Downmix(pcm, from.Channels)
	mono = Resample(mono, from.SampleRate, to.SampleRate)
	return Upmix(mono, to.Channels)
}

// Chunks splits pcm into a closed, fully buffered channel of chunk-sized
// slices. It is the simplest way to turn a complete buffer (a cue, a decoded
// WAV) into [Segment] audio.
func Chunks(pcm []byte, size int) <-chan []byte {
	if size <= 0 {
		size = len(pcm)
	}
	n := 0
	if size > 0 {
		n = (len(pcm) + size - 1) / size
	}
	ch := make(chan []byte, n)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		ch <- pcm[start:end]
	}
	close(ch)
	return ch
}
