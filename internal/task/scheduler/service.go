package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type Service struct {
	log    logx.Logger
	now    func() time.Time
	parser cron.Parser

	mu      sync.Mutex
	loc     *time.Location
	entries map[Key]*entry
	queue   entryHeap
	seq     uint64
	jobs    []job

	wake    chan struct{}
	running atomic.Bool
}

type entry struct {
	key     Key
	at      time.Time
	seq     uint64
	fn      Func
	sched   cron.Schedule // nil for one-shot timers
	trigger string
	index   int
}

type job struct {
	fn   Func
	done chan struct{}
}

func New(log logx.Logger, opts ...Option) *Service {
	s := &Service{
		log:     log,
		now:     time.Now,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		loc:     time.Local,
		entries: map[Key]*entry{},
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now is the loop's clock in its configured location.
func (s *Service) Now() time.Time {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	return s.now().In(loc)
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// SetLocation moves daily timers to loc and recomputes their next instants.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	s.loc = loc
	now := s.now().In(loc)
	for _, e := range s.entries {
		if e.sched != nil {
			e.at = e.sched.Next(now)
			heap.Fix(&s.queue, e.index)
		}
	}
	s.mu.Unlock()
	s.poke()
}

// ScheduleOnce registers fn to run once at at, replacing any timer with the
// same key. Instants in the past fire on the next loop turn.
func (s *Service) ScheduleOnce(key Key, at time.Time, fn Func) error {
	return s.add(key, at, fn, nil, "once")
}

// ScheduleDaily registers fn to run every day at clock in the loop's location.
func (s *Service) ScheduleDaily(key Key, clock daytime.Clock, fn Func) error {
	sched, err := s.parser.Parse(clock.CronSpec())
	if err != nil {
		return fmt.Errorf("daily %s: %w", clock, err)
	}
	return s.add(key, sched.Next(s.Now()), fn, sched, "daily "+clock.String())
}

// ScheduleEvery registers fn to run repeatedly, first after every.
func (s *Service) ScheduleEvery(key Key, every time.Duration, fn Func) error {
	if every < time.Second {
		return fmt.Errorf("interval %s is below one second", every)
	}
	sched := cron.Every(every)
	return s.add(key, sched.Next(s.Now()), fn, sched, "every "+every.String())
}

func (s *Service) add(key Key, at time.Time, fn Func, sched cron.Schedule, trigger string) error {
	if key.Kind == "" {
		return ErrBadKey
	}
	if fn == nil {
		return fmt.Errorf("timer %s: nil callback", key)
	}
	s.mu.Lock()
	s.removeLocked(key)
	s.seq++
	e := &entry{key: key, at: at, seq: s.seq, fn: fn, sched: sched, trigger: trigger}
	s.entries[key] = e
	heap.Push(&s.queue, e)
	s.mu.Unlock()

	s.log.Debug("timer scheduled", logx.String("key", key.String()), logx.Time("at", at), logx.String("trigger", trigger))
	s.poke()
	return nil
}

// Cancel removes one timer. It reports whether the timer existed.
func (s *Service) Cancel(key Key) bool {
	s.mu.Lock()
	ok := s.removeLocked(key)
	s.mu.Unlock()
	if ok {
		s.poke()
	}
	return ok
}

// CancelKind removes every timer of kind and returns how many were removed.
// Called from inside the loop it also covers timers that are already due,
// because due timers are only taken off the registry by the loop itself.
func (s *Service) CancelKind(kind Kind) int {
	s.mu.Lock()
	n := 0
	for k := range s.entries {
		if k.Kind == kind && s.removeLocked(k) {
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.poke()
	}
	return n
}

func (s *Service) removeLocked(key Key) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	heap.Remove(&s.queue, e.index)
	return true
}

// Entries lists registered timers ordered by next fire time.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{Key: e.key, Next: e.at, Enabled: s.running.Load(), Trigger: e.trigger})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Count returns the number of timers of kind.
func (s *Service) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.Kind == kind {
			n++
		}
	}
	return n
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a timer callback; use Post there.
func (s *Service) Do(ctx context.Context, fn Func) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	s.enqueue(job{fn: fn, done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post hands fn to the loop without waiting. Safe from inside callbacks.
func (s *Service) Post(fn Func) {
	s.enqueue(job{fn: fn})
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	s.poke()
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("timer loop already running")
	}
	defer s.running.Store(false)
	s.log.Info("timer loop started", logx.String("tz", s.Location().String()))

	for {
		if ctx.Err() != nil {
			s.log.Info("timer loop stopped")
			return nil
		}
		if j, ok := s.nextJob(); ok {
			s.exec(ctx, "job", j.fn)
			if j.done != nil {
				close(j.done)
			}
			continue
		}
		if e, wait := s.nextDue(); e != nil {
			s.exec(ctx, e.key.String(), e.fn)
			continue
		} else if wait >= 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
			case <-s.wake:
			case <-t.C:
			}
			t.Stop()
			continue
		}
		select {
		case <-ctx.Done():
		case <-s.wake:
		}
	}
}

func (s *Service) nextJob() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return job{}, false
	}
	j := s.jobs[0]
	s.jobs[0] = job{}
	s.jobs = s.jobs[1:]
	return j, true
}

// nextDue pops the earliest timer if it is due. Otherwise it returns how long
// to wait for it, or -1 when nothing is registered.
func (s *Service) nextDue() (*entry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, -1
	}
	e := s.queue[0]
	now := s.now()
	if wait := e.at.Sub(now); wait > 0 {
		return nil, wait
	}
	if e.sched != nil {
		e.at = e.sched.Next(now.In(s.loc))
		heap.Fix(&s.queue, e.index)
	} else {
		heap.Pop(&s.queue)
		delete(s.entries, e.key)
	}
	return e, 0
}

func (s *Service) exec(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("timer callback panicked",
				logx.String("timer", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	start := s.now()
	fn(ctx)
	s.log.Trace("timer callback done", logx.String("timer", name), logx.Duration("took", s.now().Sub(start)))
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
