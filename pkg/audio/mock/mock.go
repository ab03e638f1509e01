// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Speaker] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1})
//	spk := &mock.Speaker{PlayDelay: 10 * time.Millisecond}
//	src.Push(make([]byte, 640))
//	...
//	if len(spk.Enqueued()) != 1 { ... }
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

var _ audio.Source = (*Source)(nil)

// Source is a mock [audio.Source] whose frames are pushed by the test.
type Source struct {
	format audio.Format
	frames chan audio.Frame

	mu        sync.Mutex
	seq       uint64
	elapsed   time.Duration
	closed    bool
	CloseErr  error
	CallCount int
}

// NewSource returns a Source producing frames in format. The frame channel is
// buffered so pushes do not block on a slow consumer.
func NewSource(format audio.Format) *Source {
	return &Source{format: format, frames: make(chan audio.Frame, 256)}
}

// Push delivers one frame carrying data with the next sequence number.
// Push on a closed source is a no-op.
func (s *Source) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	f := audio.Frame{Data: data, Format: s.format, Seq: s.seq, Timestamp: s.elapsed}
	s.seq++
	s.elapsed += s.format.Duration(len(data))
	s.frames <- f
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source]. Closes the frame channel once and returns
// CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

var _ audio.Speaker = (*Speaker)(nil)

// EnqueueCall records the arguments of a single [Speaker.Enqueue] invocation.
type EnqueueCall struct {
	// Segment is the segment passed to Enqueue.
	Segment *audio.Segment
	// Priority is the priority argument passed to Enqueue.
	Priority int
	// Audio holds every PCM byte the segment produced.
	Audio []byte
}

// Speaker is a mock [audio.Speaker]. Segments play one at a time in enqueue
// order: the audio channel is drained, then the segment is held for PlayDelay
// (or until [Speaker.Release] when Hold is set) and finished.
type Speaker struct {
	// PlayDelay is how long each segment "plays" after its audio is drained.
	PlayDelay time.Duration

	// Hold keeps every segment playing until Release or Interrupt is called.
	Hold bool

	// OnPlay, if set, is invoked when a segment starts playing.
	OnPlay func(seg *audio.Segment)

	mu             sync.Mutex
	calls          []EnqueueCall
	InterruptCalls []audio.InterruptReason
	CloseCount     int

	queue   []int
	cancel  chan struct{}
	release chan struct{}
	wake    chan struct{}
	running bool
	closed  bool
}

// Enqueue implements [audio.Speaker].
func (s *Speaker) Enqueue(seg *audio.Segment, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, EnqueueCall{Segment: seg, Priority: priority})
	if s.closed {
		go audio.Drain(seg.Audio)
		seg.Finish(true)
		return
	}
	s.queue = append(s.queue, len(s.calls)-1)
	if !s.running {
		s.running = true
		s.wake = make(chan struct{}, 1)
		go s.loop()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Interrupt implements [audio.Speaker]. The playing segment is finished as
// interrupted; [audio.BargeIn] also discards the queue.
func (s *Speaker) Interrupt(reason audio.InterruptReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptCalls = append(s.InterruptCalls, reason)
	s.interruptLocked(reason)
}

func (s *Speaker) interruptLocked(reason audio.InterruptReason) {
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
	if reason == audio.BargeIn {
		for _, i := range s.queue {
			seg := s.calls[i].Segment
			go audio.Drain(seg.Audio)
			seg.Finish(true)
		}
		s.queue = nil
	}
}

// Release finishes the currently held segment normally.
func (s *Speaker) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
	}
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if !s.closed {
		s.closed = true
		s.interruptLocked(audio.BargeIn)
		if s.wake != nil {
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Enqueued returns a copy of every Enqueue call so far.
func (s *Speaker) Enqueued() []EnqueueCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EnqueueCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Interrupts returns a copy of the recorded interrupt reasons.
func (s *Speaker) Interrupts() []audio.InterruptReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.InterruptReason, len(s.InterruptCalls))
	copy(out, s.InterruptCalls)
	return out
}

func (s *Speaker) loop() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.running = false
				s.mu.Unlock()
				return
			}
			wake := s.wake
			s.mu.Unlock()
			<-wake
			continue
		}
		idx := s.queue[0]
		s.queue = s.queue[1:]
		seg := s.calls[idx].Segment
		cancel := make(chan struct{})
		release := make(chan struct{})
		s.cancel = cancel
		s.release = release
		onPlay := s.OnPlay
		s.mu.Unlock()

		if onPlay != nil {
			onPlay(seg)
		}
		interrupted := s.play(idx, seg, cancel, release)

		s.mu.Lock()
		if s.cancel == cancel {
			s.cancel = nil
		}
		if s.release == release {
			s.release = nil
		}
		s.mu.Unlock()
		seg.Finish(interrupted)
	}
}

func (s *Speaker) play(idx int, seg *audio.Segment, cancel, release chan struct{}) bool {
drain:
	for {
		select {
		case <-cancel:
			go audio.Drain(seg.Audio)
			return true
		case chunk, ok := <-seg.Audio:
			if !ok {
				break drain
			}
			seg.Start()
			s.mu.Lock()
			s.calls[idx].Audio = append(s.calls[idx].Audio, chunk...)
			s.mu.Unlock()
		}
	}
	if s.Hold {
		select {
		case <-cancel:
			return true
		case <-release:
			return false
		}
	}
	if s.PlayDelay <= 0 {
		select {
		case <-cancel:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(s.PlayDelay)
	defer t.Stop()
	select {
	case <-cancel:
		return true
	case <-t.C:
		return false
	}
}
