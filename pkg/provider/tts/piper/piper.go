// Package piper runs the Piper command-line synthesiser as a local TTS
// backend. Text is written to the process's stdin and raw 16-bit PCM is read
// from stdout (--output_raw), so playback can start before the whole answer
// has been synthesised.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultBinary     = "piper"
	defaultSampleRate = 22050
	readChunk         = 4096
	audioChanBuf      = 32
)

// Option configures a [Provider].
type Option func(*Provider)

// WithBinary sets the piper executable. Defaults to "piper" on $PATH.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithLengthScale sets --length_scale (phoneme duration; larger is slower).
func WithLengthScale(v float64) Option {
	return func(p *Provider) { p.lengthScale = v }
}

// WithNoiseScale sets --noise_scale.
func WithNoiseScale(v float64) Option {
	return func(p *Provider) { p.noiseScale = v }
}

// WithNoiseW sets --noise_w.
func WithNoiseW(v float64) Option {
	return func(p *Provider) { p.noiseW = v }
}

// WithSpeaker sets --speaker for multi-speaker models.
func WithSpeaker(id int) Option {
	return func(p *Provider) { p.speaker = &id }
}

// WithFs sets the filesystem the model configuration is read from.
func WithFs(fs afero.Fs) Option {
	return func(p *Provider) { p.fs = fs }
}

// Provider synthesises speech by spawning one piper process per response.
type Provider struct {
	binary      string
	model       string
	lengthScale float64
	noiseScale  float64
	noiseW      float64
	speaker     *int
	fs          afero.Fs
	format      audio.Format
}

// modelConfig is the subset of <model>.onnx.json that pivoice needs.
type modelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// New returns a provider for the .onnx voice model at model. The sample rate
// is read from the model's JSON sidecar (model + ".json"); when the sidecar
// is missing Piper's common rate of 22050 Hz is assumed.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("piper: model path must not be empty")
	}
	p := &Provider{
		binary: defaultBinary,
		model:  model,
		fs:     afero.NewOsFs(),
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := p.fs.Stat(model); err != nil {
		return nil, fmt.Errorf("piper: model: %w", err)
	}

	rate := defaultSampleRate
	if data, err := afero.ReadFile(p.fs, model+".json"); err == nil {
		var cfg modelConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("piper: parse model config: %w", err)
		}
		if cfg.Audio.SampleRate > 0 {
			rate = cfg.Audio.SampleRate
		}
	}
	p.format = audio.Format{SampleRate: rate, Channels: 1}
	return p, nil
}

// Format returns the PCM format produced by the model.
func (p *Provider) Format() audio.Format { return p.format }

// args builds the piper command line. A per-voice SpeedFactor overrides the
// configured length scale.
func (p *Provider) args(voice tts.VoiceProfile) []string {
	args := []string{"--model", p.model, "--output_raw"}
	ls := p.lengthScale
	if voice.SpeedFactor > 0 {
		ls = 1 / voice.SpeedFactor
	}
	if ls > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(ls, 'f', -1, 64))
	}
	if p.noiseScale > 0 {
		args = append(args, "--noise_scale", strconv.FormatFloat(p.noiseScale, 'f', -1, 64))
	}
	if p.noiseW > 0 {
		args = append(args, "--noise_w", strconv.FormatFloat(p.noiseW, 'f', -1, 64))
	}
	if p.speaker != nil {
		args = append(args, "--speaker", strconv.Itoa(*p.speaker))
	}
	return args
}

// Synthesize implements tts.Provider. The process is killed when ctx is
// cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.Unavailable("piper", errors.New("nothing to synthesise"))
	}

	cmd := exec.CommandContext(ctx, p.binary, p.args(voice)...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, tts.Unavailable("piper", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, tts.Unavailable("piper", fmt.Errorf("start %s: %w", p.binary, err))
	}

	stream, w := tts.NewStream(p.format, audioChanBuf)
	go func() {
		readErr := pump(ctx, stdout, w)
		// Drain so the process can exit even when the consumer went away.
		_, _ = io.Copy(io.Discard, stdout)
		waitErr := cmd.Wait()
		switch {
		case readErr != nil:
			w.Close(readErr)
		case waitErr != nil:
			w.Close(fmt.Errorf("piper: %w: %s", waitErr, strings.TrimSpace(stderr.String())))
		default:
			w.Close(nil)
		}
	}()
	return stream, nil
}

// pump copies stdout to the stream in whole-sample chunks.
func pump(ctx context.Context, r io.Reader, w *tts.StreamWriter) error {
	var carry []byte
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			chunk := make([]byte, even)
			copy(chunk, data[:even])
			carry = append([]byte(nil), data[even:]...)
			if len(chunk) > 0 && !w.Send(ctx, chunk) {
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("piper: read output: %w", err)
		}
	}
}
