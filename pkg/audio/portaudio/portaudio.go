// Package portaudio connects pivoice to the local sound card through the
// PortAudio C library. It provides the microphone [audio.Source] and the
// blocking output writer that drives the playback mixer.
//
// PortAudio must be initialised once per process: call [Init] before opening
// streams and the returned function after all streams are closed.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/pivoice/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultFrameSize  = 30 * time.Millisecond
	defaultBuffer     = 64
	defaultRetries    = 3
	defaultBackoff    = 500 * time.Millisecond
)

// Config selects and shapes a capture or playback stream.
type Config struct {
	// Device is a case-insensitive substring of the PortAudio device name.
	// Empty selects the host's default device.
	Device string

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels defaults to 1.
	Channels int

	// FrameSize is the duration of one frame. Defaults to 30ms.
	FrameSize time.Duration

	// Buffer is the number of frames held for a lagging consumer before the
	// oldest is dropped. Defaults to 64.
	Buffer int

	// OpenRetries bounds how many times opening the device is attempted.
	// Defaults to 3.
	OpenRetries int

	// RetryBackoff is the delay before the first retry; it doubles on each
	// subsequent attempt. Defaults to 500ms.
	RetryBackoff time.Duration

	// OnDrop is called whenever a frame is dropped because the consumer lagged.
	OnDrop func()
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSize <= 0 {
		c.FrameSize = defaultFrameSize
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.OpenRetries <= 0 {
		c.OpenRetries = defaultRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultBackoff
	}
	return c
}

func (c Config) format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

func (c Config) framesPerBuffer() int {
	return int(int64(c.SampleRate) * int64(c.FrameSize) / int64(time.Second))
}

// Init initialises PortAudio and returns the matching terminate function.
func Init() (func() error, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return portaudio.Terminate, nil
}

// findDevice resolves name against the device list. Empty name selects the
// default device for the requested direction.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

// withRetry calls open up to cfg.OpenRetries times with doubling backoff.
func withRetry[T any](ctx context.Context, cfg Config, what string, open func() (T, error)) (T, error) {
	var zero T
	var errs []error
	backoff := cfg.RetryBackoff
	for attempt := 1; attempt <= cfg.OpenRetries; attempt++ {
		v, err := open()
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
		slog.Warn("portaudio: open failed", "stream", what, "device", cfg.Device, "attempt", attempt, "err", err)
		if attempt == cfg.OpenRetries {
			break
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("portaudio: open %s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return zero, fmt.Errorf("portaudio: open %s: %w: %w", what, audio.ErrDeviceUnavailable, errors.Join(errs...))
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.Source = (*Input)(nil)

// Input is a microphone [audio.Source] backed by a blocking PortAudio stream.
type Input struct {
	cfg    Config
	stream *portaudio.Stream
	buf    []int16
	frames chan audio.Frame

	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	exited    chan struct{}
}

// OpenInput opens the configured capture device and starts the read loop.
// Opening is retried with backoff; after the last attempt the error wraps
// [audio.ErrDeviceUnavailable].
func OpenInput(ctx context.Context, cfg Config) (*Input, error) {
	cfg = cfg.withDefaults()
	in := &Input{
		cfg:    cfg,
		buf:    make([]int16, cfg.framesPerBuffer()*cfg.Channels),
		frames: make(chan audio.Frame, cfg.Buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	stream, err := withRetry(ctx, cfg, "input", func() (*portaudio.Stream, error) {
		dev, err := findDevice(cfg.Device, true)
		if err != nil {
			return nil, err
		}
		p := portaudio.LowLatencyParameters(dev, nil)
		p.Input.Channels = cfg.Channels
		p.SampleRate = float64(cfg.SampleRate)
		p.FramesPerBuffer = cfg.framesPerBuffer()
		s, err := portaudio.OpenStream(p, in.buf)
		if err != nil {
			return nil, err
		}
		if err := s.Start(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	in.stream = stream

	slog.Info("portaudio: capture started", "device", cfg.Device, "format", cfg.format(), "frame", cfg.FrameSize)
	go in.readLoop()
	return in, nil
}

// Frames implements [audio.Source].
func (in *Input) Frames() <-chan audio.Frame { return in.frames }

// Format implements [audio.Source].
func (in *Input) Format() audio.Format { return in.cfg.format() }

// Dropped returns how many frames were discarded because the consumer lagged.
func (in *Input) Dropped() uint64 { return in.dropped.Load() }

// Close implements [audio.Source]. It stops the read loop and releases the
// device. Close is idempotent.
func (in *Input) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.done)
		<-in.exited
		err = errors.Join(in.stream.Stop(), in.stream.Close())
		if err != nil {
			err = fmt.Errorf("portaudio: close input: %w", err)
		}
	})
	return err
}

func (in *Input) readLoop() {
	defer close(in.exited)
	defer close(in.frames)

	format := in.cfg.format()
	start := time.Now()
	var seq uint64
	for {
		select {
		case <-in.done:
			return
		default:
		}

		if err := in.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
			} else {
				slog.Error("portaudio: read failed", "err", err)
				return
			}
		}

		f := audio.Frame{
			Data:      audio.PCM(in.buf),
			Format:    format,
			Seq:       seq,
			Timestamp: time.Since(start),
		}
		seq++
		in.push(f)
	}
}

// push delivers f without blocking. When the buffer is full the oldest
// frame is discarded to make room.
func (in *Input) push(f audio.Frame) {
	for {
		select {
		case in.frames <- f:
			return
		default:
		}
		select {
		case <-in.frames:
			in.dropped.Add(1)
			if in.cfg.OnDrop != nil {
				in.cfg.OnDrop()
			}
		default:
		}
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a blocking playback stream. [Output.Write] returns once the
// chunk has been handed to the device, which paces the mixer in real time.
type Output struct {
	cfg    Config
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// OpenOutput opens the configured playback device.
func OpenOutput(ctx context.Context, cfg Config) (*Output, error) {
	cfg = cfg.withDefaults()
	out := &Output{
		cfg: cfg,
		buf: make([]int16, cfg.framesPerBuffer()*cfg.Channels),
	}

	stream, err := withRetry(ctx, cfg, "output", func() (*portaudio.Stream, error) {
		dev, err := findDevice(cfg.Device, false)
		if err != nil {
			return nil, err
		}
		p := portaudio.LowLatencyParameters(nil, dev)
		p.Output.Channels = cfg.Channels
		p.SampleRate = float64(cfg.SampleRate)
		p.FramesPerBuffer = cfg.framesPerBuffer()
		s, err := portaudio.OpenStream(p, out.buf)
		if err != nil {
			return nil, err
		}
		if err := s.Start(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	out.stream = stream
	return out, nil
}

// Format returns the device format. The mixer converts segments to it.
func (o *Output) Format() audio.Format { return o.cfg.format() }

// Write plays pcm, splitting it into device-sized buffers. The final partial
// buffer is padded with silence. Errors are logged; the mixer cannot act on
// them.
func (o *Output) Write(pcm []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	samples := audio.Samples(pcm)
	for len(samples) > 0 {
		n := copy(o.buf, samples)
		clear(o.buf[n:])
		samples = samples[n:]
		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Warn("portaudio: write failed", "err", err)
			return
		}
	}
}

// Close stops playback and releases the device. Close is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := errors.Join(o.stream.Stop(), o.stream.Close()); err != nil {
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return nil
}
