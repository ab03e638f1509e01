package mixer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/audio/mixer"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

// makeSegment creates a segment whose channel is pre-loaded with chunks and
// already closed.
func makeSegment(id string, chunks ...[]byte) *audio.Segment {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return audio.NewSegment(id, ch, testFormat)
}

// makeOpenSegment creates a segment whose channel the caller controls.
func makeOpenSegment(id string) (*audio.Segment, chan []byte) {
	ch := make(chan []byte, 16)
	return audio.NewSegment(id, ch, testFormat), ch
}

// collectOutput returns an output callback recording every chunk and a getter.
func collectOutput() (func([]byte), func() []string) {
	var mu sync.Mutex
	var chunks []string
	output := func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, string(b))
	}
	get := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(chunks))
		copy(out, chunks)
		return out
	}
	return output, get
}

func waitDone(t *testing.T, seg *audio.Segment) {
	t.Helper()
	select {
	case <-seg.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("segment %q did not finish", seg.ID)
	}
}

func TestBasicPlayback(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	seg := makeSegment("response-1", []byte("hello"), []byte("world"))
	m.Enqueue(seg, audio.PriorityResponse)
	waitDone(t, seg)

	if seg.Interrupted() {
		t.Error("Interrupted = true, want false for a segment played to the end")
	}
	chunks := get()
	if len(chunks) != 2 || chunks[0] != "hello" || chunks[1] != "world" {
		t.Errorf("output = %q, want [hello world]", chunks)
	}
}

func TestReminderQueuesBehindResponse(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	resp, respCh := makeOpenSegment("response-1")
	m.Enqueue(resp, audio.PriorityResponse)
	respCh <- []byte("answer")
	time.Sleep(20 * time.Millisecond)

	rem := makeSegment("reminder-1", []byte("reminder"))
	m.Enqueue(rem, audio.PriorityReminder)

	time.Sleep(20 * time.Millisecond)
	if got := get(); len(got) != 1 {
		t.Fatalf("reminder overlapped the response: output = %q", got)
	}

	close(respCh)
	waitDone(t, resp)
	waitDone(t, rem)

	got := get()
	if len(got) != 2 || got[0] != "answer" || got[1] != "reminder" {
		t.Errorf("output = %q, want [answer reminder]", got)
	}
	if resp.Interrupted() || rem.Interrupted() {
		t.Error("a segment was interrupted, want both played fully")
	}
}

func TestFIFOWithinSamePriority(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	first := makeSegment("a", []byte("first"))
	second := makeSegment("b", []byte("second"))
	m.Enqueue(first, audio.PriorityReminder)
	m.Enqueue(second, audio.PriorityReminder)
	waitDone(t, second)

	got := get()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("output = %q, want [first second]", got)
	}
}

func TestPriorityPreemption(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	low, lowCh := makeOpenSegment("reminder-1")
	m.Enqueue(low, audio.PriorityReminder)
	lowCh <- []byte("low")
	time.Sleep(20 * time.Millisecond)

	high := makeSegment("alert-1", []byte("high"))
	m.Enqueue(high, audio.PriorityReminder+1)

	waitDone(t, low)
	waitDone(t, high)
	close(lowCh)

	if !low.Interrupted() {
		t.Error("low-priority segment Interrupted = false, want true")
	}
	got := get()
	if len(got) != 2 || got[1] != "high" {
		t.Errorf("output = %q, want [low high]", got)
	}
}

func TestResponseDoesNotCutReminder(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	rem, remCh := makeOpenSegment("reminder-1")
	m.Enqueue(rem, audio.PriorityReminder)
	remCh <- []byte("reminder")
	time.Sleep(20 * time.Millisecond)

	resp := makeSegment("response-2", []byte("answer"))
	m.Enqueue(resp, audio.PriorityResponse)
	time.Sleep(20 * time.Millisecond)
	close(remCh)
	waitDone(t, rem)
	waitDone(t, resp)

	if rem.Interrupted() {
		t.Error("reminder Interrupted = true, want played to the end")
	}
	got := get()
	if len(got) != 2 || got[0] != "reminder" || got[1] != "answer" {
		t.Errorf("output = %q, want [reminder answer]", got)
	}
}

func TestSegmentStarted(t *testing.T) {
	t.Parallel()

	m := mixer.New(func([]byte) {}, mixer.WithGap(0))
	defer m.Close()

	// The first segment waits for audio, the second never leaves the queue.
	waiting, waitingCh := makeOpenSegment("response-1")
	queued := makeSegment("reminder-2", []byte("later"))
	m.Enqueue(waiting, audio.PriorityResponse)
	m.Enqueue(queued, audio.PriorityReminder)
	time.Sleep(20 * time.Millisecond)
	if waiting.Started() {
		t.Error("Started = true before any audio arrived")
	}

	waitingCh <- []byte("now")
	deadline := time.Now().Add(2 * time.Second)
	for !waiting.Started() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !waiting.Started() {
		t.Fatal("Started = false after the first chunk was played")
	}

	m.Interrupt(audio.BargeIn)
	waitDone(t, queued)
	close(waitingCh)
	if queued.Started() {
		t.Error("queued segment Started = true, want false after barge-in")
	}
}

func TestBargeInClearsQueue(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	playing, playingCh := makeOpenSegment("response-1")
	m.Enqueue(playing, audio.PriorityResponse)
	playingCh <- []byte("talking")
	time.Sleep(20 * time.Millisecond)

	queued := makeSegment("reminder-1", []byte("queued"))
	m.Enqueue(queued, audio.PriorityReminder)

	m.Interrupt(audio.BargeIn)
	waitDone(t, playing)
	waitDone(t, queued)
	close(playingCh)

	if !playing.Interrupted() || !queued.Interrupted() {
		t.Errorf("Interrupted playing=%v queued=%v, want both true", playing.Interrupted(), queued.Interrupted())
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after barge-in", m.Pending())
	}
	for _, c := range get() {
		if c == "queued" {
			t.Error("queued segment was played after barge-in")
		}
	}
}

func TestInterruptWhenIdle(t *testing.T) {
	t.Parallel()

	output, get := collectOutput()
	m := mixer.New(output, mixer.WithGap(0))
	defer m.Close()

	m.Interrupt(audio.BargeIn)
	m.Interrupt(audio.Preempted)

	seg := makeSegment("after", []byte("ok"))
	m.Enqueue(seg, audio.PriorityResponse)
	waitDone(t, seg)
	if got := get(); len(got) != 1 {
		t.Errorf("output = %q, want [ok]", got)
	}
}

func TestFormatConversion(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var total int
	m := mixer.New(func(b []byte) {
		mu.Lock()
		total += len(b)
		mu.Unlock()
	}, mixer.WithGap(0), mixer.WithFormat(audio.Format{SampleRate: 16000, Channels: 2}))
	defer m.Close()

	ch := make(chan []byte, 1)
	ch <- make([]byte, 320) // 160 mono samples at 8 kHz
	close(ch)
	seg := audio.NewSegment("cue", ch, audio.Format{SampleRate: 8000, Channels: 1})
	m.Enqueue(seg, audio.PriorityResponse)
	waitDone(t, seg)

	mu.Lock()
	defer mu.Unlock()
	// 160 samples -> 320 samples at 16 kHz -> stereo -> 640 samples -> 1280 bytes.
	if total != 1280 {
		t.Errorf("output bytes = %d, want 1280", total)
	}
}

func TestOnPlayCallback(t *testing.T) {
	t.Parallel()

	started := make(chan string, 1)
	m := mixer.New(func([]byte) {}, mixer.WithGap(0), mixer.WithOnPlay(func(seg *audio.Segment) {
		started <- seg.ID
	}))
	defer m.Close()

	m.Enqueue(makeSegment("response-7", []byte("x")), audio.PriorityResponse)
	select {
	case id := <-started:
		if id != "response-7" {
			t.Errorf("OnPlay id = %q, want response-7", id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnPlay not invoked")
	}
}

func TestCloseFinishesQueuedSegments(t *testing.T) {
	t.Parallel()

	m := mixer.New(func([]byte) {}, mixer.WithGap(0))

	playing, playingCh := makeOpenSegment("a")
	m.Enqueue(playing, audio.PriorityResponse)
	playingCh <- []byte("x")
	time.Sleep(20 * time.Millisecond)
	queued := makeSegment("b", []byte("y"))
	m.Enqueue(queued, audio.PriorityReminder)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	close(playingCh)

	waitDone(t, playing)
	waitDone(t, queued)

	late := makeSegment("c", []byte("z"))
	m.Enqueue(late, audio.PriorityResponse)
	waitDone(t, late)
	if !late.Interrupted() {
		t.Error("segment enqueued after Close Interrupted = false, want true")
	}
}

func TestGapBetweenSegments(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stamps []time.Time
	m := mixer.New(func([]byte) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	}, mixer.WithGap(60*time.Millisecond))
	defer m.Close()

	a := makeSegment("a", []byte("1"))
	b := makeSegment("b", []byte("2"))
	m.Enqueue(a, audio.PriorityResponse)
	m.Enqueue(b, audio.PriorityResponse)
	waitDone(t, b)

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 2 {
		t.Fatalf("chunks = %d, want 2", len(stamps))
	}
	if d := stamps[1].Sub(stamps[0]); d < 50*time.Millisecond {
		t.Errorf("gap = %v, want >= 50ms", d)
	}
}
