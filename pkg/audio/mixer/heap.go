// Package mixer provides the concrete [audio.Speaker]: a priority queue of
// speech segments drained by a single playback goroutine. It supports
// priority preemption, barge-in interrupts and a short silence gap between
// consecutive segments.
package mixer

import "github.com/MrWong99/pivoice/pkg/audio"

// entry wraps a segment with its scheduling metadata. seq gives FIFO ordering
// within a priority level.
type entry struct {
	segment  *audio.Segment
	priority int
	seq      uint64
}

// segmentHeap is a max-heap on priority with FIFO tie-breaking on seq.
type segmentHeap []entry

func (h segmentHeap) Len() int { return len(h) }

func (h segmentHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h segmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *segmentHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
