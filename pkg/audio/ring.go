package audio

import "time"

// Ring keeps the most recent frames up to a total duration. The session
// controller uses it as pre-roll so the first syllables spoken right after
// the wake phrase are not lost.
//
// Ring is not safe for concurrent use; it is owned by a single goroutine.
type Ring struct {
	frames []Frame
	head   int
	size   int
	span   time.Duration
}

// NewRing returns a ring that retains roughly span worth of frames of
// frameDur each. A non-positive span yields a ring that retains nothing.
func NewRing(span, frameDur time.Duration) *Ring {
	n := 0
	if span > 0 && frameDur > 0 {
		n = int((span + frameDur - 1) / frameDur)
	}
	return &Ring{frames: make([]Frame, n), span: span}
}

// Add stores f, overwriting the oldest frame once the ring is full.
func (r *Ring) Add(f Frame) {
	if len(r.frames) == 0 {
		return
	}
	r.frames[r.head] = f
	r.head = (r.head + 1) % len(r.frames)
	if r.size < len(r.frames) {
		r.size++
	}
}

// Frames returns the retained frames oldest first.
func (r *Ring) Frames() []Frame {
	out := make([]Frame, 0, r.size)
	start := (r.head - r.size + len(r.frames)) % max(len(r.frames), 1)
	for i := range r.size {
		out = append(out, r.frames[(start+i)%len(r.frames)])
	}
	return out
}

// Len returns the number of retained frames.
func (r *Ring) Len() int { return r.size }

// Reset drops all retained frames.
func (r *Ring) Reset() {
	clear(r.frames)
	r.head = 0
	r.size = 0
}
