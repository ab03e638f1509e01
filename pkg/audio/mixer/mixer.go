package mixer

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

var _ audio.Speaker = (*PriorityMixer)(nil)

const (
	// DefaultGap is the silence inserted between consecutive segments.
	DefaultGap = 250 * time.Millisecond

	defaultQueueCap = 8
)

// Option configures a [PriorityMixer] during construction.
type Option func(*PriorityMixer)

// WithGap sets the silence inserted between consecutive segments. Zero plays
// segments back to back.
func WithGap(d time.Duration) Option {
	return func(m *PriorityMixer) {
		m.gap = d
	}
}

// WithFormat sets the output format. Segments in a different format are
// converted chunk by chunk before they reach the output callback.
func WithFormat(f audio.Format) Option {
	return func(m *PriorityMixer) {
		m.format = f
	}
}

// WithOnPlay registers a callback invoked on the dispatch goroutine whenever a
// segment starts playing. Used for metrics and the status indicator.
func WithOnPlay(fn func(seg *audio.Segment)) Option {
	return func(m *PriorityMixer) {
		m.onPlay = fn
	}
}

// PriorityMixer is the concrete [audio.Speaker]. It owns the output device
// through the output callback: only the dispatch goroutine ever calls it, so
// two segments can never overlap.
//
// All exported methods are safe for concurrent use.
type PriorityMixer struct {
	output func([]byte)
	format audio.Format
	onPlay func(*audio.Segment)

	mu            sync.Mutex
	queue         segmentHeap
	seq           uint64
	gap           time.Duration
	playing       *audio.Segment
	playingPri    int
	cancelPlaying chan struct{}

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// New creates a [PriorityMixer] that delivers PCM chunks to output and starts
// the dispatch goroutine. output is called sequentially and should block for
// roughly the playback time of the chunk (a blocking device write), which is
// what keeps barge-in latency within one chunk.
func New(output func([]byte), opts ...Option) *PriorityMixer {
	m := &PriorityMixer{
		output: output,
		queue:  make(segmentHeap, 0, defaultQueueCap),
		gap:    DefaultGap,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	heap.Init(&m.queue)
	go m.dispatch()
	return m
}

// Enqueue schedules seg at priority. A segment with higher priority than the
// one currently playing preempts it; the preempted segment is finished as
// interrupted. Enqueue on a closed mixer finishes seg immediately.
func (m *PriorityMixer) Enqueue(seg *audio.Segment, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		go audio.Drain(seg.Audio)
		seg.Finish(true)
		return
	}

	m.seq++
	heap.Push(&m.queue, entry{segment: seg, priority: priority, seq: m.seq})

	if m.playing != nil && priority > m.playingPri {
		m.interruptLocked(audio.Preempted)
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Interrupt stops the current segment. [audio.BargeIn] also discards every
// queued segment.
func (m *PriorityMixer) Interrupt(reason audio.InterruptReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interruptLocked(reason)
}

// Pending returns the number of queued segments, excluding the one playing.
func (m *PriorityMixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Close stops the dispatch goroutine, finishes every queued segment as
// interrupted and waits for the dispatcher to exit. Close is idempotent.
func (m *PriorityMixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.interruptLocked(audio.BargeIn)
	m.mu.Unlock()

	close(m.done)
	<-m.exited
	return nil
}

// interruptLocked cancels the current segment and, for barge-in, clears the
// queue. Must be called with m.mu held.
func (m *PriorityMixer) interruptLocked(reason audio.InterruptReason) {
	if m.cancelPlaying != nil {
		close(m.cancelPlaying)
		m.cancelPlaying = nil
		slog.Debug("mixer: interrupted segment", "segment", m.playing.ID, "reason", reason)
	}
	m.playing = nil

	if reason == audio.BargeIn {
		for m.queue.Len() > 0 {
			e := heap.Pop(&m.queue).(entry)
			go audio.Drain(e.segment.Audio)
			e.segment.Finish(true)
		}
	}
}

// dispatch pulls segments off the queue and streams them to the output
// callback until Close.
func (m *PriorityMixer) dispatch() {
	defer close(m.exited)

	var lastPlayed bool
	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}

		for {
			seg, cancel, ok := m.dequeue()
			if !ok {
				break
			}

			if lastPlayed {
				if gap := m.currentGap(); gap > 0 {
					gapTimer.Reset(gap)
					select {
					case <-m.done:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						go audio.Drain(seg.Audio)
						seg.Finish(true)
						return
					case <-cancel:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						go audio.Drain(seg.Audio)
						seg.Finish(true)
						continue
					case <-gapTimer.C:
					}
				}
			}

			if m.onPlay != nil {
				m.onPlay(seg)
			}
			completed := m.play(seg, cancel)
			lastPlayed = true

			m.mu.Lock()
			if m.playing == seg {
				m.playing = nil
				m.cancelPlaying = nil
			}
			m.mu.Unlock()

			seg.Finish(!completed)
		}
	}
}

// dequeue pops the next segment and marks it as playing.
func (m *PriorityMixer) dequeue() (*audio.Segment, chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Len() == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&m.queue).(entry)
	cancel := make(chan struct{})
	m.playing = e.segment
	m.playingPri = e.priority
	m.cancelPlaying = cancel
	return e.segment, cancel, true
}

// play streams seg until its audio channel closes (returns true) or it is
// cancelled (returns false).
func (m *PriorityMixer) play(seg *audio.Segment, cancel chan struct{}) bool {
	for {
		select {
		case <-m.done:
			go audio.Drain(seg.Audio)
			return false
		case <-cancel:
			go audio.Drain(seg.Audio)
			return false
		case chunk, ok := <-seg.Audio:
			if !ok {
				if err := seg.Err(); err != nil {
					slog.Warn("mixer: segment ended with error", "segment", seg.ID, "err", err)
				}
				return true
			}
			if m.format.SampleRate > 0 && seg.Format != m.format {
				chunk = audio.Convert(chunk, seg.Format, m.format)
			}
			// Re-check cancellation so an interrupt that raced with the
			// receive never reaches the device.
			select {
			case <-cancel:
				go audio.Drain(seg.Audio)
				return false
			default:
			}
			seg.Start()
			m.output(chunk)
		}
	}
}

func (m *PriorityMixer) currentGap() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gap
}
