// Package audio defines the sound-card facing types of pivoice.
//
// The two primary abstractions are:
//
//   - [Source]: a continuous stream of microphone [Frame] values.
//   - [Speaker]: the exclusive output resource; spoken responses and reminder
//     notifications are queued on it as [Segment] values and played one at a
//     time.
//
// Device-backed implementations live in audio/portaudio; the priority queue
// behind [Speaker] lives in audio/mixer.
package audio

import (
	"sync"
	"sync/atomic"
)

// Segment priorities. Equal priorities play in FIFO order; a segment with a
// higher priority than the one currently playing preempts it.
const (
	// PriorityResponse is used for command responses and cues.
	PriorityResponse = 0

	// PriorityReminder is used for reminder notifications. It equals
	// PriorityResponse: a reminder waits for the response queued before it
	// and never cuts one off.
	PriorityReminder = PriorityResponse
)

// InterruptReason identifies why the current segment was cut short.
type InterruptReason int

const (
	// Preempted indicates that a higher-priority segment took the speaker.
	// Queued segments are preserved.
	Preempted InterruptReason = iota

	// BargeIn indicates that the user spoke a wake or stop phrase while the
	// assistant was talking. The queue is cleared; the user has the floor.
	BargeIn
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case Preempted:
		return "PREEMPTED"
	case BargeIn:
		return "BARGE_IN"
	default:
		return "UNKNOWN"
	}
}

// Segment is the unit of speech submitted to a [Speaker]. Audio is streamed so
// playback can begin before synthesis completes.
type Segment struct {
	// ID identifies the segment in logs (e.g., "response-12", "reminder-<uuid>").
	ID string

	// Audio carries PCM chunks in Format. The producer closes the channel when
	// the segment ends or when a mid-stream error occurs; see [Segment.Err].
	Audio <-chan []byte

	// Format of the PCM on Audio. A producer that learns the format only
	// once synthesis starts sets it before sending the first chunk; speakers
	// read it after receiving a chunk.
	Format Format

	streamErr   atomic.Pointer[error]
	started     atomic.Bool
	interrupted atomic.Bool
	done        chan struct{}
	finishOnce  sync.Once
}

// NewSegment returns a segment ready to be enqueued.
func NewSegment(id string, pcm <-chan []byte, format Format) *Segment {
	return &Segment{
		ID:     id,
		Audio:  pcm,
		Format: format,
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed once the segment has finished playing,
// was interrupted, or was discarded from the queue.
func (s *Segment) Done() <-chan struct{} {
	return s.done
}

// Start records that the first chunk of the segment reached the device.
// Speaker implementations call it before writing that chunk.
func (s *Segment) Start() {
	s.started.Store(true)
}

// Started reports whether any audio of the segment was played.
func (s *Segment) Started() bool {
	return s.started.Load()
}

// Interrupted reports whether the segment was cut short or discarded rather
// than played to the end. Only meaningful after Done is closed.
func (s *Segment) Interrupted() bool {
	return s.interrupted.Load()
}

// Finish marks the segment as complete and closes Done. Speaker
// implementations call it exactly once per segment; later calls are no-ops.
func (s *Segment) Finish(interrupted bool) {
	s.finishOnce.Do(func() {
		s.interrupted.Store(interrupted)
		close(s.done)
	})
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (s *Segment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing the Audio channel.
func (s *Segment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// Speaker owns the output device. Only one segment plays at a time; others
// wait in priority order.
//
// Implementations must be safe for concurrent use.
type Speaker interface {
	// Enqueue schedules seg for playback at the given priority.
	Enqueue(seg *Segment, priority int)

	// Interrupt stops the currently playing segment. For [BargeIn] the queue
	// is cleared as well. If nothing is playing, Interrupt only applies the
	// queue semantics of reason.
	Interrupt(reason InterruptReason)

	// Close stops playback and releases resources. Segments still queued are
	// finished as interrupted.
	Close() error
}
