package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout of a stream. Samples are always signed
// 16-bit little-endian; only the sample rate and channel count vary.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for the microphone, 22050 for Piper voices).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// BytesPerSecond returns the number of PCM bytes one second of audio occupies.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of PCM in this format play for.
// Returns zero for an unset format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of PCM bytes needed to hold d of audio, rounded
// down to a whole sample frame.
func (f Format) Bytes(d time.Duration) int {
	frame := f.Channels * 2
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// String returns a human-readable representation, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is one fixed-duration PCM buffer read from the microphone. Frames are
// produced in order by a [Source] and are discarded after consumption unless
// they are aggregated into an [Utterance].
type Frame struct {
	// Data holds the PCM samples.
	Data []byte

	// Format is fixed for the lifetime of the source.
	Format Format

	// Seq increases by one for every frame the source produces. Gaps indicate
	// frames that were dropped because the consumer lagged behind.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to source start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Data))
}

// EndReason records why an utterance stopped growing.
type EndReason int

const (
	// EndSilence: trailing silence exceeded the configured timeout.
	EndSilence EndReason = iota

	// EndStopPhrase: the user spoke a stop phrase.
	EndStopPhrase

	// EndMaxDuration: the utterance hit the maximum duration bound and was
	// truncated.
	EndMaxDuration

	// EndShutdown: the session started draining while the utterance was open.
	EndShutdown
)

// String returns the human-readable name of the end reason.
func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndStopPhrase:
		return "stop_phrase"
	case EndMaxDuration:
		return "max_duration"
	case EndShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Utterance is the bounded audio segment representing one spoken command.
// It is built by the session controller and handed by value to a recogniser.
type Utterance struct {
	// Frames in capture order.
	Frames []Frame

	// Format of every frame.
	Format Format

	// Start is the capture timestamp of the first frame.
	Start time.Duration

	// End records why capture stopped.
	End EndReason
}

// Duration returns the summed duration of all frames.
func (u Utterance) Duration() time.Duration {
	var n int
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	return u.Format.Duration(n)
}

// Empty reports whether the utterance holds no audio.
func (u Utterance) Empty() bool {
	for _, f := range u.Frames {
		if len(f.Data) > 0 {
			return false
		}
	}
	return true
}

// PCM concatenates the frame payloads into one contiguous buffer.
func (u Utterance) PCM() []byte {
	var n int
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}
