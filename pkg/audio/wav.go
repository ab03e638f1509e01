package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero/mem"
)

// EncodeWAV wraps int16 PCM in a RIFF/WAV container. The encoder needs a
// seekable writer to patch the chunk sizes on close, so the file is assembled
// in an in-memory file handle.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	f := mem.NewFileHandle(mem.CreateFile("pcm.wav"))

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	samples := Samples(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewind wav: %w", err)
	}
	out, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav: %w", err)
	}
	return out, nil
}

// DecodeWAV parses a 16-bit PCM WAV file and returns its samples and format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("audio: decode wav: not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("audio: decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return PCM(samples), format, nil
}
