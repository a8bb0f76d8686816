// Package posting is the publishing core: it spreads the queue over the daily
// window, fires the two special slots and runs the random announcer, all on
// the single timer loop from internal/task/scheduler.
package posting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// Settings is the runtime view of the scheduler configuration.
type Settings struct {
	Window          Window
	Opening         daytime.Clock
	Closing         daytime.Clock
	DailyRecompute  daytime.Clock
	StartupDelay    time.Duration
	SafetyRecompute time.Duration // 0 disables
	Channel         transport.ChatTarget
	PublishTimeout  time.Duration
	Announcer       AnnouncerSettings
}

type Deps struct {
	Log    logx.Logger
	Timers Timers
	Store  storage.Store
	Out    Sender
	Bus    eventbus.Bus
	// Started is the process start instant.
	Started time.Time
}

// Service owns the posting components and the standing timers.
type Service struct {
	log    logx.Logger
	timers Timers

	rc    *Context
	exec  *Executor
	sched *Scheduler
	ann   *Announcer

	mu  sync.Mutex
	set Settings
}

func New(ctx context.Context, d Deps, set Settings) (*Service, error) {
	rc, err := LoadContext(ctx, d.Store, d.Started)
	if err != nil && rc == nil {
		return nil, err
	}
	if err != nil {
		d.Log.Warn("stored last publication time ignored", logx.Err(err))
	}
	if last, ok := rc.LastPublish(); ok {
		d.Log.Info("last publication restored", logx.Time("at", last))
	}

	exec := NewExecutor(d.Log.Named("executor"), d.Out, d.Store, rc, d.Bus, d.Timers.Now)
	exec.Configure(set.Channel, set.PublishTimeout)
	s := &Service{
		log:    d.Log,
		timers: d.Timers,
		rc:     rc,
		exec:   exec,
		sched:  NewScheduler(d.Log.Named("window"), d.Timers, d.Store, rc, exec, d.Bus, set.Window),
		ann:    NewAnnouncer(d.Log.Named("announcer"), d.Timers, d.Out, d.Bus, set.Announcer),
		set:    set,
	}
	return s, nil
}

func (s *Service) Scheduler() *Scheduler { return s.sched }
func (s *Service) Executor() *Executor   { return s.exec }
func (s *Service) Recovery() *Context    { return s.rc }

// Install registers the standing timers. It may run before the loop starts.
func (s *Service) Install() error {
	s.mu.Lock()
	set := s.set
	s.mu.Unlock()

	start := s.timers.Now().Add(set.StartupDelay)
	if err := s.timers.ScheduleOnce(scheduler.Key{Kind: scheduler.KindStartup}, start, s.sched.recomputeFunc("startup")); err != nil {
		return fmt.Errorf("startup recompute: %w", err)
	}
	if err := s.timers.ScheduleDaily(scheduler.Key{Kind: scheduler.KindDailyBoundary}, set.DailyRecompute, s.sched.recomputeFunc("daily")); err != nil {
		return fmt.Errorf("daily recompute: %w", err)
	}
	if err := s.installSlots(set); err != nil {
		return err
	}
	s.installSafetyNet(set.SafetyRecompute)
	if set.Announcer.Enabled {
		if _, err := s.ann.Seed(); err != nil {
			return fmt.Errorf("announcer: %w", err)
		}
	}
	s.log.Info("standing timers installed",
		logx.String("window", set.Window.Open.String()+"-"+set.Window.Close.String()),
		logx.Time("first_recompute", start))
	return nil
}

func (s *Service) installSlots(set Settings) error {
	slots := []struct {
		kind  scheduler.Kind
		slot  post.Slot
		clock daytime.Clock
	}{
		{scheduler.KindSpecialOpening, post.SlotOpening, set.Opening},
		{scheduler.KindSpecialClosing, post.SlotClosing, set.Closing},
	}
	for _, sl := range slots {
		slot := sl.slot
		fn := func(ctx context.Context) { _, _ = s.exec.PublishSpecial(ctx, slot) }
		if err := s.timers.ScheduleDaily(scheduler.Key{Kind: sl.kind}, sl.clock, fn); err != nil {
			return fmt.Errorf("%s slot: %w", slot, err)
		}
	}
	return nil
}

func (s *Service) installSafetyNet(every time.Duration) {
	key := scheduler.Key{Kind: scheduler.KindSafetyNet}
	if every <= 0 {
		s.timers.Cancel(key)
		return
	}
	if err := s.timers.ScheduleEvery(key, every, s.sched.recomputeFunc("safety-net")); err != nil {
		s.log.Error("safety-net recompute not installed", logx.Err(err))
		return
	}
	s.log.Warn("safety-net recompute enabled: items whose publication failed are rescheduled",
		logx.Duration("every", every))
}

// Apply switches to new settings at runtime. Window changes are followed by a
// recompute; slot, announcer and safety-net timers are re-registered.
func (s *Service) Apply(ctx context.Context, set Settings) error {
	s.mu.Lock()
	old := s.set
	s.set = set
	s.mu.Unlock()

	s.exec.Configure(set.Channel, set.PublishTimeout)
	s.ann.Configure(set.Announcer)

	if set.Opening != old.Opening || set.Closing != old.Closing {
		if err := s.installSlots(set); err != nil {
			return err
		}
	}
	if set.DailyRecompute != old.DailyRecompute {
		if err := s.timers.ScheduleDaily(scheduler.Key{Kind: scheduler.KindDailyBoundary}, set.DailyRecompute, s.sched.recomputeFunc("daily")); err != nil {
			return fmt.Errorf("daily recompute: %w", err)
		}
	}
	if set.SafetyRecompute != old.SafetyRecompute {
		s.installSafetyNet(set.SafetyRecompute)
	}
	switch {
	case set.Announcer.Enabled && !old.Announcer.Enabled:
		if _, err := s.ann.Seed(); err != nil {
			return fmt.Errorf("announcer: %w", err)
		}
	case !set.Announcer.Enabled && old.Announcer.Enabled:
		s.timers.Cancel(scheduler.Key{Kind: scheduler.KindAnnouncer})
	}

	if set.Window != old.Window {
		s.sched.SetWindow(set.Window)
		if _, err := s.sched.RequestRecompute(ctx); err != nil {
			return fmt.Errorf("recompute: %w", err)
		}
	}
	return nil
}
