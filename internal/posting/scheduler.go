package posting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// Timers is the timer loop as seen by the posting core. *scheduler.Service
// implements it.
type Timers interface {
	Now() time.Time
	ScheduleOnce(key scheduler.Key, at time.Time, fn scheduler.Func) error
	ScheduleDaily(key scheduler.Key, clock daytime.Clock, fn scheduler.Func) error
	ScheduleEvery(key scheduler.Key, every time.Duration, fn scheduler.Func) error
	Cancel(key scheduler.Key) bool
	CancelKind(kind scheduler.Kind) int
	Do(ctx context.Context, fn scheduler.Func) error
	Post(fn scheduler.Func)
}

// Recomputed is the payload of eventbus.QueueRecomputed.
type Recomputed struct {
	Queued int
	Timers int
	Start  time.Time
	End    time.Time
}

// Scheduler spreads the queue over the remaining window of the day. It owns
// every queue timer; a recompute replaces all of them.
type Scheduler struct {
	log    logx.Logger
	timers Timers
	queue  storage.Queue
	rc     *Context
	exec   *Executor
	bus    eventbus.Bus

	mu     sync.RWMutex
	window Window
}

func NewScheduler(log logx.Logger, timers Timers, queue storage.Queue, rc *Context, exec *Executor, bus eventbus.Bus, w Window) *Scheduler {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Scheduler{log: log, timers: timers, queue: queue, rc: rc, exec: exec, bus: bus, window: w}
}

func (s *Scheduler) Window() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// SetWindow takes effect on the next recompute.
func (s *Scheduler) SetWindow(w Window) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
}

// Recompute must run on the timer loop. It cancels every queue timer, then
// installs one per queued item according to the current plan. It has no
// durable side effects, so repeating it without a queue change yields the
// same instants.
func (s *Scheduler) Recompute(ctx context.Context) (Plan, error) {
	if n := s.timers.CancelKind(scheduler.KindQueue); n > 0 {
		s.log.Debug("queue timers cancelled", logx.Int("count", n))
	}

	items, err := s.queue.ListQueue(ctx)
	if err != nil {
		s.log.Error("queue read failed; nothing scheduled", logx.Err(err))
		return Plan{}, fmt.Errorf("list queue: %w", err)
	}
	if len(items) == 0 {
		s.log.Info("queue empty, nothing to schedule")
		return Plan{}, nil
	}

	plan := s.Window().ComputePlan(s.timers.Now(), s.rc.snapshot(), items)
	if plan.Closed() {
		s.log.Info("window closed for today; items wait for the next day",
			logx.Int("queued", len(items)), logx.Time("start", plan.Start), logx.Time("end", plan.End))
		s.publish(len(items), plan)
		return plan, nil
	}

	for _, f := range plan.Fires {
		item := f.Item
		key := scheduler.Key{Kind: scheduler.KindQueue, ID: item.ID}
		if err := s.timers.ScheduleOnce(key, f.At, func(ctx context.Context) {
			_ = s.exec.PublishQueued(ctx, item)
		}); err != nil {
			s.log.Error("queue timer not installed", logx.String("item", item.ID), logx.Err(err))
			continue
		}
		s.log.Info("post scheduled", logx.String("item", item.ID), logx.Time("at", f.At))
	}
	s.publish(len(items), plan)
	return plan, nil
}

func (s *Scheduler) publish(queued int, plan Plan) {
	s.bus.Publish(eventbus.Event{Type: eventbus.QueueRecomputed, Data: Recomputed{
		Queued: queued,
		Timers: len(plan.Fires),
		Start:  plan.Start,
		End:    plan.End,
	}})
}

// RequestRecompute runs Recompute on the loop and waits for it. Call it from
// outside the loop, e.g. after the operator changed the queue.
func (s *Scheduler) RequestRecompute(ctx context.Context) (Plan, error) {
	var (
		plan Plan
		rerr error
	)
	if err := s.timers.Do(ctx, func(ctx context.Context) {
		plan, rerr = s.Recompute(ctx)
	}); err != nil {
		return Plan{}, err
	}
	return plan, rerr
}

// recomputeFunc adapts Recompute to a timer callback.
func (s *Scheduler) recomputeFunc(reason string) scheduler.Func {
	return func(ctx context.Context) {
		s.log.Debug("recompute", logx.String("reason", reason))
		_, _ = s.Recompute(ctx)
	}
}

// onLoop runs fn on the timer loop and waits, so queue edits and the
// recompute that follows cannot interleave with a firing queue timer. Before
// the loop starts nothing fires, and fn runs inline.
func (s *Scheduler) onLoop(ctx context.Context, fn scheduler.Func) error {
	err := s.timers.Do(ctx, fn)
	if errors.Is(err, scheduler.ErrNotRunning) {
		fn(ctx)
		return nil
	}
	return err
}

// Enqueue appends p to the queue and reschedules. The returned count is the
// queue length after the append.
func (s *Scheduler) Enqueue(ctx context.Context, p post.Payload) (post.QueuedItem, int, error) {
	item := post.NewQueued(p, s.timers.Now())
	var (
		n   int
		err error
	)
	lerr := s.onLoop(ctx, func(ctx context.Context) {
		if _, err = s.queue.Enqueue(ctx, item); err != nil {
			err = fmt.Errorf("enqueue: %w", err)
			return
		}
		if n, err = s.queue.CountQueue(ctx); err != nil {
			err = fmt.Errorf("count queue: %w", err)
		}
		if _, rerr := s.Recompute(ctx); rerr != nil {
			s.log.Warn("recompute after enqueue failed", logx.Err(rerr))
		}
	})
	if lerr != nil {
		return post.QueuedItem{}, 0, fmt.Errorf("enqueue: %w", lerr)
	}
	if err != nil {
		return post.QueuedItem{}, 0, err
	}
	return item, n, nil
}

// Remove deletes the queued item id and reschedules in the same loop turn.
// Unknown ids are not an error; removed reports whether anything was deleted.
func (s *Scheduler) Remove(ctx context.Context, id string) (removed bool, err error) {
	lerr := s.onLoop(ctx, func(ctx context.Context) {
		if removed, err = s.queue.DeleteQueued(ctx, id); err != nil {
			err = fmt.Errorf("delete %s: %w", id, err)
			return
		}
		if _, rerr := s.Recompute(ctx); rerr != nil {
			s.log.Warn("recompute after removal failed", logx.Err(rerr))
		}
	})
	if lerr != nil {
		return false, fmt.Errorf("delete %s: %w", id, lerr)
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}
