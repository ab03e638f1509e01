// Package session runs the assistant's command cycle.
//
// A [Controller] owns the session state machine. Microphone frames with
// their wake detections, button triggers, recognition and handler results,
// playback completions and fired reminders all arrive as events on a single
// channel consumed by the Run goroutine, which is the only place state
// changes. Blocking work (recognition, handlers, synthesis) runs on worker
// goroutines and reports back with the cycle it belongs to; results of an
// abandoned cycle are discarded.
//
// The package also keeps the dialogue context handed to the chat handler
// ([Dialogue]) and folds old turns into a summary ([LLMSummariser]).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pivoice/internal/handler"
	"github.com/MrWong99/pivoice/internal/intent"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/reminder"
	"github.com/MrWong99/pivoice/internal/transcript"
	"github.com/MrWong99/pivoice/internal/wake"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/vad"
)

const (
	eventBuffer      = 64
	transitionBuffer = 256
)

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithTransitionHook registers fn to be called on the Run goroutine for
// every state transition. fn must not block.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Controller) {
		c.onTransition = fn
	}
}

// segmentKind tags what a speaker segment is for.
type segmentKind int

const (
	kindCue segmentKind = iota
	kindResponse
	kindReminder
)

func (k segmentKind) String() string {
	switch k {
	case kindCue:
		return "cue"
	case kindResponse:
		return "response"
	case kindReminder:
		return "reminder"
	default:
		return "segment"
	}
}

// Events consumed by the Run goroutine.
type (
	event any

	frameEvent struct {
		frame audio.Frame
		det   wake.Detection
	}

	triggerEvent struct {
		source TriggerSource
	}

	responseEvent struct {
		cycle     uint64
		text      string
		userText  string
		in        intent.Intent
		routed    bool
		directive handler.Directive
		err       error
	}

	playbackEvent struct {
		id          string
		kind        segmentKind
		gen         uint64
		interrupted bool
		err         error
	}

	reminderEvent struct {
		r reminder.Reminder
	}

	sourceClosedEvent struct{}
)

// Controller is the session state machine. Create one with [New] and drive
// it with [Controller.Run]. Trigger, Shutdown, State and Transitions are safe
// for concurrent use.
type Controller struct {
	cfg          Config
	deps         Deps
	metrics      *observe.Metrics
	onTransition func(Transition)

	events       chan event
	transitions  chan Transition
	done         chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	running      atomic.Bool

	state         atomic.Int32
	resetDetector atomic.Bool

	workCtx context.Context

	// Owned by the Run goroutine.
	phase      State
	stopping   bool
	drainTimer *time.Timer
	cycle      uint64
	cycleStart time.Time
	utt        audio.Utterance
	silence    time.Duration
	vadSess    vad.SessionHandle
	ring       *audio.Ring
	cueID      string
	segSeq     uint64
	speakGen   uint64
	pending    int
	reminders  []queuedReminder
	deferred   []deferredReminder
}

// queuedReminder is a reminder segment handed to the speaker.
type queuedReminder struct {
	r   reminder.Reminder
	seg *audio.Segment
}

// deferredReminder waits for the next return to Idle. requeued marks one a
// barge-in discarded before it was heard; it was counted when it fired.
type deferredReminder struct {
	r        reminder.Reminder
	requeued bool
}

// New validates cfg and deps and returns an idle controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	cfg.setDefaults()
	if err := errors.Join(cfg.validate(), deps.validate()); err != nil {
		return nil, fmt.Errorf("session: invalid configuration: %w", err)
	}
	if deps.Indicator == nil {
		deps.Indicator = wake.NopIndicator{}
	}

	sess, err := deps.VAD.NewSession(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("session: create endpointing vad session: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		deps:        deps,
		events:      make(chan event, eventBuffer),
		transitions: make(chan Transition, transitionBuffer),
		done:        make(chan struct{}),
		shutdown:    make(chan struct{}),
		vadSess:     sess,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Transitions returns a channel receiving every state transition. Transitions
// are dropped when the channel is full.
func (c *Controller) Transitions() <-chan Transition {
	return c.transitions
}

// Trigger starts a capture as if the wake phrase had been spoken. In
// Speaking it interrupts playback.
func (c *Controller) Trigger(source TriggerSource) {
	c.post(triggerEvent{source: source})
}

// Shutdown asks Run to drain and return. It does not wait.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run consumes events until the session has shut down. Cancelling ctx is a
// shutdown request: work in flight drains to the nearest safe boundary,
// bounded by DrainTimeout. Run returns an error wrapping
// [audio.ErrDeviceUnavailable] when the microphone stream ends unexpectedly.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session: controller already running")
	}
	defer close(c.done)
	defer c.vadSess.Close()

	c.workCtx = context.WithoutCancel(ctx)
	pumpCtx, cancelPump := context.WithCancel(c.workCtx)
	defer cancelPump()

	go c.pump(pumpCtx)
	if c.deps.Reminders != nil {
		go c.forwardReminders()
	}

	c.deps.Indicator.Indicate(wake.IndicateWaiting)
	slog.Info("session: started", "silence_timeout", c.cfg.SilenceTimeout, "max_utterance", c.cfg.MaxUtterance)
	if c.cfg.Messages.Greeting != "" {
		c.speak(c.cfg.Messages.Greeting, kindResponse)
		c.setPhase(StateSpeaking, "greeting")
	}

	ctxDone := ctx.Done()
	shutdown := (<-chan struct{})(c.shutdown)
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			c.beginShutdown("signal")
		case <-shutdown:
			shutdown = nil
			c.beginShutdown("requested")
		case <-c.drainC():
			slog.Warn("session: drain timeout, abandoning work in flight", "phase", c.phase, "timeout", c.cfg.DrainTimeout)
			c.abort()
			return nil
		case ev := <-c.events:
			if err := c.handle(ev); err != nil {
				c.abort()
				return err
			}
		}
		if c.stopping && c.phase == StateIdle {
			c.finish()
			return nil
		}
	}
}

func (c *Controller) handle(ev event) error {
	switch ev := ev.(type) {
	case frameEvent:
		c.onFrame(ev.frame, ev.det)
	case triggerEvent:
		c.onTrigger(ev.source)
	case responseEvent:
		c.onResponse(ev)
	case playbackEvent:
		c.onPlayback(ev)
	case reminderEvent:
		c.onReminder(ev.r)
	case sourceClosedEvent:
		if c.stopping {
			return nil
		}
		c.markStopping("device unavailable")
		return fmt.Errorf("session: microphone stream closed: %w", audio.ErrDeviceUnavailable)
	}
	return nil
}

// ─── Capture ──────────────────────────────────────────────────────────────────

func (c *Controller) onFrame(f audio.Frame, det wake.Detection) {
	switch c.phase {
	case StateIdle:
		c.remember(f)
		if det.Kind == wake.WakeMatch && !c.stopping {
			slog.Info("session: wake phrase", "phrase", det.Phrase, "confidence", det.Confidence)
			c.startCapture(string(TriggerWake))
		}
	case StateCapturing:
		c.captureFrame(f, det)
	case StateSpeaking:
		c.remember(f)
		if det.Kind != wake.NoMatch && !c.stopping {
			source := TriggerWake
			if det.Kind == wake.StopMatch {
				source = TriggerStop
			}
			c.bargeIn(source)
		}
	}
}

func (c *Controller) onTrigger(source TriggerSource) {
	if c.stopping {
		slog.Debug("session: trigger ignored while shutting down", "source", source)
		return
	}
	switch c.phase {
	case StateIdle:
		c.recordTrigger(source)
		c.startCapture(string(source))
	case StateSpeaking:
		c.recordTrigger(source)
		c.bargeIn(source)
	default:
		slog.Debug("session: trigger ignored", "source", source, "state", c.phase)
	}
}

func (c *Controller) recordTrigger(source TriggerSource) {
	if c.metrics != nil {
		c.metrics.RecordWake(c.workCtx, wake.WakeMatch.String(), string(source))
	}
}

// remember keeps f in the pre-roll ring.
func (c *Controller) remember(f audio.Frame) {
	if c.cfg.PreRoll <= 0 {
		return
	}
	if c.ring == nil {
		c.ring = audio.NewRing(c.cfg.PreRoll, f.Duration())
	}
	c.ring.Add(f)
}

func (c *Controller) startCapture(reason string) {
	c.cycle++
	c.cycleStart = time.Now()
	c.utt = audio.Utterance{Format: c.deps.Source.Format()}
	if c.ring != nil {
		c.utt.Frames = c.ring.Frames()
		c.ring.Reset()
		if len(c.utt.Frames) > 0 {
			c.utt.Start = c.utt.Frames[0].Timestamp
		}
	}
	c.silence = 0
	c.vadSess.Reset()
	c.resetDetector.Store(true)

	c.setPhase(StateCapturing, reason)
	if c.cfg.Messages.Ack != "" {
		c.cueID = c.speak(c.cfg.Messages.Ack, kindCue).ID
	}
}

func (c *Controller) captureFrame(f audio.Frame, det wake.Detection) {
	if det.Kind == wake.StopMatch {
		c.endCapture(audio.EndStopPhrase)
		return
	}
	// The microphone hears the acknowledgement cue.
	if c.cueID != "" {
		return
	}

	if len(c.utt.Frames) == 0 {
		c.utt.Start = f.Timestamp
	}
	c.utt.Frames = append(c.utt.Frames, f)
	if c.utt.Duration() >= c.cfg.MaxUtterance {
		c.endCapture(audio.EndMaxDuration)
		return
	}

	mono := f.Data
	if f.Format.Channels > 1 {
		mono = audio.Downmix(f.Data, f.Format.Channels)
	}
	ev, err := c.vadSess.ProcessFrame(mono)
	if err != nil {
		slog.Debug("session: endpointing frame rejected", "seq", f.Seq, "err", err)
	}
	if err == nil && ev.IsSpeech() {
		c.silence = 0
	} else {
		c.silence += f.Duration()
	}
	if c.silence >= c.cfg.SilenceTimeout {
		c.endCapture(audio.EndSilence)
	}
}

func (c *Controller) endCapture(reason audio.EndReason) {
	u := c.utt
	u.End = reason
	c.utt = audio.Utterance{}
	c.cueID = ""

	slog.Debug("session: utterance captured", "cycle", c.cycle, "end", reason, "duration", u.Duration(), "frames", len(u.Frames))
	c.setPhase(StateProcessing, reason.String())
	go c.process(c.cycle, u)
}

// ─── Processing ───────────────────────────────────────────────────────────────

// process recognises, routes and handles u on a worker goroutine and posts
// the outcome as a responseEvent.
func (c *Controller) process(cycle uint64, u audio.Utterance) {
	ctx, span := observe.StartSpan(c.workCtx, "session.cycle")
	defer span.End()
	log := observe.Logger(ctx).With("cycle", cycle)

	ev := responseEvent{cycle: cycle}
	defer func() { c.post(ev) }()

	if c.deps.Recorder != nil && !u.Empty() {
		if path, err := c.deps.Recorder.Save(u); err != nil {
			log.Warn("session: save utterance", "err", err)
		} else {
			log.Debug("session: utterance saved", "path", path)
		}
	}

	t, err := c.transcribe(ctx, u)
	if err != nil {
		log.Warn("session: recognition failed",
			"end", u.End,
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"err", err,
		)
		ev.text, ev.err = c.cfg.Messages.RecognitionFailed, err
		return
	}
	if !t.Valid(c.cfg.ConfidenceThreshold) {
		log.Info("session: transcript rejected", "text", t.Text, "confidence", t.Confidence)
		ev.text = c.cfg.Messages.NotUnderstood
		return
	}
	t.Text = transcript.Sanitize(t.Text)
	if t.Text == "" {
		ev.text = c.cfg.Messages.Invalid
		return
	}

	in := c.deps.Router.Route(t)
	span.SetAttributes(observe.Attr("intent", string(in.Tag)))

	var history []llm.Message
	if c.deps.Dialogue != nil {
		history = c.deps.Dialogue.Prompt()
	}
	start := time.Now()
	resp, err := c.deps.Dispatcher.Dispatch(ctx, in, handler.DialogueContext{History: history})
	log.Info("session: command handled",
		"text", t.Text,
		"intent", in.Tag,
		"rule", in.Rule,
		"directive", resp.Directive,
		"duration", time.Since(start),
		"failed", err != nil,
	)

	ev.userText = t.Text
	ev.in = in
	ev.routed = true
	ev.text = resp.Text
	ev.directive = resp.Directive
	ev.err = err
}

func (c *Controller) transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ASRTimeout)
	defer cancel()

	start := time.Now()
	t, err := c.deps.STT.Transcribe(ctx, u)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	return t, err
}

func (c *Controller) onResponse(ev responseEvent) {
	if ev.cycle != c.cycle || c.phase != StateProcessing {
		slog.Debug("session: discarding stale result", "cycle", ev.cycle, "current", c.cycle, "state", c.phase)
		return
	}

	if ev.routed && ev.err == nil && ev.in.Tag == intent.TagChat && c.deps.Dialogue != nil {
		c.deps.Dialogue.Add(
			llm.Message{Role: llm.RoleUser, Content: ev.userText},
			llm.Message{Role: llm.RoleAssistant, Content: ev.text},
		)
	}
	if ev.directive == handler.DirectiveForget && c.deps.Dialogue != nil {
		c.deps.Dialogue.Reset()
		slog.Info("session: dialogue context cleared")
	}

	if ev.text == "" {
		c.enterIdle("empty response")
	} else {
		c.speak(ev.text, kindResponse)
		c.setPhase(StateSpeaking, "response")
	}

	if ev.directive == handler.DirectiveShutdown {
		c.beginShutdown("shutdown command")
	}
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// speak takes a speaker slot for text and synthesises the audio into it on
// a worker goroutine. The slot is taken here, on the Run goroutine, so
// segments play in the order they were requested whatever the synthesis
// latency.
func (c *Controller) speak(text string, kind segmentKind) *audio.Segment {
	c.segSeq++
	id := fmt.Sprintf("%s-%d", kind, c.segSeq)
	if kind != kindCue {
		c.pending++
	}

	priority := audio.PriorityResponse
	if kind == kindReminder {
		priority = audio.PriorityReminder
	}
	out := make(chan []byte, 4)
	seg := audio.NewSegment(id, out, audio.Format{})
	c.deps.Speaker.Enqueue(seg, priority)
	go c.synthesize(seg, out, text, kind, c.speakGen)
	return seg
}

// synthesize feeds seg from the TTS provider and reports the outcome once
// the speaker has finished the segment. TTSTimeout bounds the wait for the
// first chunk and for every chunk after it; time spent waiting for the
// speaker does not count.
func (c *Controller) synthesize(seg *audio.Segment, out chan<- []byte, text string, kind segmentKind, gen uint64) {
	ev := playbackEvent{id: seg.ID, kind: kind, gen: gen}
	defer func() { c.post(ev) }()

	ctx, cancel := context.WithCancel(c.workCtx)
	defer cancel()
	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.cfg.TTSTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()
	go func() {
		select {
		case <-seg.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := c.stream(ctx, seg, out, text, watchdog)
	if err != nil {
		seg.SetStreamErr(err)
	}
	close(out)
	<-seg.Done()

	ev.interrupted = seg.Interrupted()
	if err != nil && !ev.interrupted {
		slog.Warn("session: synthesis failed",
			"segment", seg.ID,
			"timeout", stalled.Load() || errors.Is(err, context.DeadlineExceeded),
			"err", err,
		)
		ev.err = err
	}
}

func (c *Controller) stream(ctx context.Context, seg *audio.Segment, out chan<- []byte, text string, watchdog *time.Timer) error {
	start := time.Now()
	stream, err := c.deps.TTS.Synthesize(ctx, text, c.cfg.Voice)
	if err != nil {
		return err
	}
	seg.Format = stream.Format

	first := true
	for {
		var (
			chunk []byte
			ok    bool
		)
		select {
		case chunk, ok = <-stream.Audio:
		case <-ctx.Done():
			go audio.Drain(stream.Audio)
			return ctx.Err()
		}
		if !ok {
			return stream.Err()
		}
		watchdog.Stop()
		if first {
			first = false
			if c.metrics != nil {
				c.metrics.TTSDuration.Record(c.workCtx, time.Since(start).Seconds())
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			go audio.Drain(stream.Audio)
			return ctx.Err()
		}
		watchdog.Reset(c.cfg.TTSTimeout)
	}
}

func (c *Controller) onPlayback(ev playbackEvent) {
	switch ev.kind {
	case kindCue:
		if ev.id == c.cueID {
			c.cueID = ""
		}
		return
	case kindReminder:
		c.reminders = slices.DeleteFunc(c.reminders, func(q queuedReminder) bool { return q.seg.ID == ev.id })
	}
	if ev.gen != c.speakGen {
		return
	}
	c.pending--
	if ev.interrupted {
		slog.Debug("session: segment interrupted", "segment", ev.id)
	}
	if c.pending > 0 || c.phase != StateSpeaking {
		return
	}
	if ev.kind == kindResponse && !c.cycleStart.IsZero() {
		if c.metrics != nil {
			c.metrics.CycleDuration.Record(c.workCtx, time.Since(c.cycleStart).Seconds())
		}
		c.cycleStart = time.Time{}
	}
	c.enterIdle("playback finished")
}

// bargeIn stops playback, drops everything queued and starts a new capture.
// Reminders that had not been heard yet wait for the next Idle.
func (c *Controller) bargeIn(source TriggerSource) {
	c.speakGen++
	c.deps.Speaker.Interrupt(audio.BargeIn)
	c.pending = 0

	var requeued []deferredReminder
	for _, q := range c.reminders {
		if q.seg.Started() {
			continue
		}
		slog.Info("session: reminder deferred after barge-in", "id", q.r.ID)
		requeued = append(requeued, deferredReminder{r: q.r, requeued: true})
	}
	c.reminders = nil
	c.deferred = append(requeued, c.deferred...)

	if c.metrics != nil {
		c.metrics.RecordBargeIn(c.workCtx)
	}
	slog.Info("session: barge-in", "source", source)
	c.startCapture("barge-in")
}

// ─── Reminders ────────────────────────────────────────────────────────────────

func (c *Controller) onReminder(r reminder.Reminder) {
	if c.stopping {
		slog.Info("session: reminder dropped during shutdown", "id", r.ID, "message", r.Message)
		return
	}
	switch c.phase {
	case StateIdle:
		c.speakReminder(deferredReminder{r: r}, false)
		c.setPhase(StateSpeaking, "reminder")
	case StateSpeaking:
		c.speakReminder(deferredReminder{r: r}, false)
	default:
		slog.Info("session: reminder deferred", "id", r.ID, "state", c.phase)
		c.deferred = append(c.deferred, deferredReminder{r: r})
	}
}

func (c *Controller) speakReminder(d deferredReminder, deferred bool) {
	if c.metrics != nil && !d.requeued {
		c.metrics.RecordReminderFired(c.workCtx, deferred)
	}
	slog.Info("session: reminder", "id", d.r.ID, "message", d.r.Message, "deferred", deferred)
	seg := c.speak(fmt.Sprintf(c.cfg.Messages.Reminder, d.r.Message), kindReminder)
	c.reminders = append(c.reminders, queuedReminder{r: d.r, seg: seg})
}

func (c *Controller) forwardReminders() {
	for {
		select {
		case <-c.done:
			return
		case r, ok := <-c.deps.Reminders:
			if !ok {
				return
			}
			c.post(reminderEvent{r: r})
		}
	}
}

// ─── State ────────────────────────────────────────────────────────────────────

// enterIdle returns to Idle and speaks reminders deferred during the cycle.
func (c *Controller) enterIdle(reason string) {
	c.setPhase(StateIdle, reason)
	if c.stopping || len(c.deferred) == 0 {
		return
	}
	for _, d := range c.deferred {
		c.speakReminder(d, true)
	}
	c.deferred = nil
	c.setPhase(StateSpeaking, "deferred reminder")
}

// setPhase moves the internal phase. While shutting down the public state
// stays ShuttingDown.
func (c *Controller) setPhase(to State, reason string) {
	from := c.phase
	c.phase = to
	if c.stopping || from == to {
		return
	}
	c.state.Store(int32(to))
	c.deps.Indicator.Indicate(to.indication())
	c.emit(Transition{From: from, To: to, Reason: reason, Cycle: c.cycle})
}

func (c *Controller) emit(t Transition) {
	slog.Debug("session: state", "from", t.From, "to", t.To, "reason", t.Reason, "cycle", t.Cycle)
	if c.metrics != nil {
		c.metrics.RecordTransition(c.workCtx, t.From.String(), t.To.String())
	}
	if c.onTransition != nil {
		c.onTransition(t)
	}
	select {
	case c.transitions <- t:
	default:
	}
}

func (c *Controller) markStopping(reason string) {
	if c.stopping {
		return
	}
	from := c.phase
	c.stopping = true
	c.state.Store(int32(StateShuttingDown))
	c.deps.Indicator.Indicate(wake.IndicateOff)
	c.emit(Transition{From: from, To: StateShuttingDown, Reason: reason, Cycle: c.cycle})
}

// beginShutdown starts the drain: an open utterance is closed and processed,
// processing and playback run to completion.
func (c *Controller) beginShutdown(reason string) {
	if c.stopping {
		return
	}
	slog.Info("session: shutting down", "reason", reason, "phase", c.phase)
	c.markStopping(reason)
	c.drainTimer = time.NewTimer(c.cfg.DrainTimeout)
	if n := len(c.deferred); n > 0 {
		slog.Info("session: dropping deferred reminders", "count", n)
		c.deferred = nil
	}
	if c.phase == StateCapturing {
		c.endCapture(audio.EndShutdown)
	}
}

func (c *Controller) drainC() <-chan time.Time {
	if c.drainTimer == nil {
		return nil
	}
	return c.drainTimer.C
}

// abort silences the speaker and invalidates every playback in flight.
func (c *Controller) abort() {
	c.speakGen++
	c.deps.Speaker.Interrupt(audio.BargeIn)
	c.finish()
}

func (c *Controller) finish() {
	if c.drainTimer != nil {
		c.drainTimer.Stop()
	}
	c.deps.Indicator.Indicate(wake.IndicateOff)
	slog.Info("session: stopped", "cycles", c.cycle)
}

// ─── Plumbing ─────────────────────────────────────────────────────────────────

// post delivers ev to the Run goroutine unless Run has returned.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// pump runs wake detection on every frame and forwards the result.
func (c *Controller) pump(ctx context.Context) {
	frames := c.deps.Source.Frames()
	var (
		last uint64
		seen bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.post(sourceClosedEvent{})
				return
			}
			if seen && f.Seq > last+1 && c.metrics != nil {
				c.metrics.RecordDroppedFrames(ctx, int64(f.Seq-last-1))
			}
			last, seen = f.Seq, true

			if c.resetDetector.CompareAndSwap(true, false) {
				c.deps.Detector.Reset()
			}
			det := c.deps.Detector.Process(ctx, f)
			if det.Kind != wake.NoMatch && c.metrics != nil {
				c.metrics.RecordWake(ctx, det.Kind.String(), "voice")
			}
			c.post(frameEvent{frame: f, det: det})
		}
	}
}
