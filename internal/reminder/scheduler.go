package reminder

import (
	"cmp"
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFiredBuffer  = 16
	defaultStoreTimeout = 5 * time.Second
)

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithStore enables persistence.
func WithStore(st Store) Option {
	return func(s *Scheduler) {
		s.store = st
	}
}

// WithClock replaces time.Now for computing fire times.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithFiredBuffer sets the capacity of the Fired channel.
func WithFiredBuffer(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.fired = make(chan Reminder, n)
		}
	}
}

// WithOnFire registers a callback invoked on the Run goroutine for every
// fired reminder, before it is delivered. Used for metrics.
func WithOnFire(fn func(Reminder)) Option {
	return func(s *Scheduler) {
		s.onFire = fn
	}
}

// Scheduler holds pending reminders and fires each at most once. All
// exported methods are safe for concurrent use; only Run delivers.
type Scheduler struct {
	store  Store
	now    func() time.Time
	onFire func(Reminder)

	mu    sync.Mutex
	items map[ID]*item
	queue queue
	seq   uint64

	wake    chan struct{}
	fired   chan Reminder
	running atomic.Bool
}

// NewScheduler creates an empty scheduler. Call Run to start firing.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:   time.Now,
		items: make(map[ID]*item),
		wake:  make(chan struct{}, 1),
		fired: make(chan Reminder, defaultFiredBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule adds a reminder firing d from now.
func (s *Scheduler) Schedule(d time.Duration, message string) (ID, error) {
	if d < 0 {
		return "", ErrInPast
	}
	return s.add(s.now().Add(d), message)
}

// ScheduleAt adds a reminder firing at t.
func (s *Scheduler) ScheduleAt(t time.Time, message string) (ID, error) {
	if t.Before(s.now()) {
		return "", ErrInPast
	}
	return s.add(t, message)
}

func (s *Scheduler) add(at time.Time, message string) (ID, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	r := Reminder{
		ID:        ID(uuid.NewString()),
		FireAt:    at,
		Message:   message,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.pushLocked(r)
	s.mu.Unlock()

	s.persist(r)
	s.signal()
	slog.Info("reminder: scheduled", "id", r.ID, "fire_at", r.FireAt.Format(time.RFC3339))
	return r.ID, nil
}

// Cancel removes a pending reminder. It returns false when id is unknown,
// already fired or already cancelled.
func (s *Scheduler) Cancel(id ID) bool {
	s.mu.Lock()
	it, ok := s.items[id]
	if ok {
		heap.Remove(&s.queue, it.index)
		delete(s.items, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.forget(id)
	s.signal()
	return true
}

// Upcoming returns up to n pending reminders in firing order. n ≤ 0 returns
// all of them.
func (s *Scheduler) Upcoming(n int) []Reminder {
	s.mu.Lock()
	its := make([]*item, 0, len(s.items))
	for _, it := range s.items {
		its = append(its, it)
	}
	s.mu.Unlock()

	slices.SortFunc(its, func(a, b *item) int {
		if c := a.r.FireAt.Compare(b.r.FireAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	if n > 0 && len(its) > n {
		its = its[:n]
	}
	out := make([]Reminder, len(its))
	for i, it := range its {
		out[i] = it.r
	}
	return out
}

// Len returns the number of pending reminders.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Fired delivers reminders as they come due.
func (s *Scheduler) Fired() <-chan Reminder {
	return s.fired
}

// Ready reports whether Run is active.
func (s *Scheduler) Ready() bool {
	return s.running.Load()
}

// Run reloads persisted reminders and fires due reminders until ctx is
// cancelled. Past-due reminders fire immediately. Run returns nil on
// cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("reminder: scheduler already running")
	}
	defer s.running.Store(false)

	s.load(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if next, ok := s.nextDeadline(); ok {
			timer.Reset(max(next.Sub(s.now()), 0))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-timerC:
		}
		timer.Stop()

		for _, r := range s.popDue() {
			if s.onFire != nil {
				s.onFire(r)
			}
			select {
			case s.fired <- r:
			case <-ctx.Done():
				return nil
			}
			s.forget(r.ID)
			slog.Info("reminder: fired", "id", r.ID)
		}
	}
}

func (s *Scheduler) load(ctx context.Context) {
	if s.store == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	pending, err := s.store.Pending(lctx)
	if err != nil {
		slog.Warn("reminder: failed to load persisted reminders", "err", err)
		return
	}

	s.mu.Lock()
	for _, r := range pending {
		if _, dup := s.items[r.ID]; !dup {
			s.pushLocked(r)
		}
	}
	s.mu.Unlock()
	if len(pending) > 0 {
		slog.Info("reminder: restored persisted reminders", "count", len(pending))
	}
}

func (s *Scheduler) pushLocked(r Reminder) {
	s.seq++
	it := &item{r: r, seq: s.seq}
	heap.Push(&s.queue, it)
	s.items[r.ID] = it
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].r.FireAt, true
}

// popDue removes and returns every reminder whose fire time has passed, in
// firing order.
func (s *Scheduler) popDue() []Reminder {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Reminder
	for s.queue.Len() > 0 && !s.queue[0].r.FireAt.After(now) {
		it := heap.Pop(&s.queue).(*item)
		delete(s.items, it.r.ID)
		due = append(due, it.r)
	}
	return due
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) persist(r Reminder) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreTimeout)
	defer cancel()
	if err := s.store.Save(ctx, r); err != nil {
		slog.Warn("reminder: persist failed, reminder kept in memory only", "id", r.ID, "err", err)
	}
}

func (s *Scheduler) forget(id ID) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, id); err != nil {
		slog.Warn("reminder: delete from store failed", "id", id, "err", err)
	}
}

// item is a heap entry. seq gives FIFO ordering for equal fire times.
type item struct {
	r     Reminder
	seq   uint64
	index int
}

// queue is a min-heap on fire time.
type queue []*item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if !q[i].r.FireAt.Equal(q[j].r.FireAt) {
		return q[i].r.FireAt.Before(q[j].r.FireAt)
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
