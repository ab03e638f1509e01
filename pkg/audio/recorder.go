package audio

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
	wave "github.com/zenwerk/go-wave"
)

// Recorder writes captured utterances as WAV files for offline debugging of
// wake and recognition problems. The filesystem is injected so tests can use
// an in-memory one.
type Recorder struct {
	fs  afero.Fs
	dir string

	mu  sync.Mutex
	seq int
	now func() time.Time
}

// NewRecorder returns a Recorder that stores files under dir on fs. The
// directory is created if it does not exist.
func NewRecorder(fs afero.Fs, dir string) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create recordings dir %q: %w", dir, err)
	}
	return &Recorder{fs: fs, dir: dir, now: time.Now}, nil
}

// Save writes u to a new file and returns its path.
func (r *Recorder) Save(u Utterance) (string, error) {
	r.mu.Lock()
	r.seq++
	name := fmt.Sprintf("utt-%s-%04d-%s.wav", r.now().Format("20060102-150405"), r.seq, u.End)
	r.mu.Unlock()

	p := path.Join(r.dir, name)
	f, err := r.fs.Create(p)
	if err != nil {
		return "", fmt.Errorf("audio: create recording %q: %w", p, err)
	}

	w, err := wave.NewWriter(wave.WriterParam{
		Out:           f,
		Channel:       u.Format.Channels,
		SampleRate:    u.Format.SampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		f.Close()
		return "", fmt.Errorf("audio: open wav writer: %w", err)
	}

	if _, err := w.WriteSample16(Samples(u.PCM())); err != nil {
		w.Close()
		return "", fmt.Errorf("audio: write recording: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("audio: close recording: %w", err)
	}
	return p, nil
}
