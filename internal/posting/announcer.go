package posting

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

var (
	defaultAnnounceFrom = daytime.MustParse("10:00")
	defaultAnnounceTo   = daytime.MustParse("22:59")
)

type AnnouncerSettings struct {
	Enabled  bool
	Messages []string
	From     daytime.Clock
	To       daytime.Clock
	Target   transport.ChatTarget
}

// Announcer sends a random message once a day at a random minute and then
// books itself for tomorrow.
type Announcer struct {
	log    logx.Logger
	timers Timers
	out    Sender
	bus    eventbus.Bus
	intn   func(n int) int

	mu  sync.RWMutex
	set AnnouncerSettings
}

func NewAnnouncer(log logx.Logger, timers Timers, out Sender, bus eventbus.Bus, set AnnouncerSettings) *Announcer {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	a := &Announcer{log: log, timers: timers, out: out, bus: bus, intn: rand.IntN}
	a.Configure(set)
	return a
}

// Configure replaces the settings. A booked occurrence keeps its instant.
func (a *Announcer) Configure(set AnnouncerSettings) {
	if set.From == (daytime.Clock{}) && set.To == (daytime.Clock{}) {
		set.From, set.To = defaultAnnounceFrom, defaultAnnounceTo
	}
	set.Messages = append([]string(nil), set.Messages...)
	a.mu.Lock()
	a.set = set
	a.mu.Unlock()
}

func (a *Announcer) settings() AnnouncerSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.set
}

// pick returns a uniformly random minute between From and To inclusive on
// the calendar day of day.
func (a *Announcer) pick(day time.Time) time.Time {
	set := a.settings()
	span := set.To.Minutes() - set.From.Minutes() + 1
	if span < 1 {
		span = 1
	}
	m := set.From.Minutes() + a.intn(span)
	return daytime.Clock{Hour: m / 60, Minute: m % 60}.On(day)
}

// Seed books the first occurrence: a random minute today when it is still
// ahead, otherwise the same minute tomorrow.
func (a *Announcer) Seed() (time.Time, error) {
	now := a.timers.Now()
	at := a.pick(now)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, a.book(at)
}

func (a *Announcer) book(at time.Time) error {
	if err := a.timers.ScheduleOnce(scheduler.Key{Kind: scheduler.KindAnnouncer}, at, a.Fire); err != nil {
		a.log.Error("announcer not scheduled", logx.Err(err))
		return err
	}
	a.log.Info("next announcement scheduled", logx.Time("at", at))
	return nil
}

// Fire sends one message and books tomorrow's occurrence. A send failure
// does not break the chain.
func (a *Announcer) Fire(ctx context.Context) {
	set := a.settings()
	switch {
	case len(set.Messages) == 0:
		a.log.Warn("announcer has no messages; send skipped")
	case set.Target.ChatID == 0:
		a.log.Warn("announcer has no target chat; send skipped")
	default:
		text := set.Messages[a.intn(len(set.Messages))]
		if _, err := a.out.SendText(ctx, set.Target, text, nil); err != nil {
			a.log.Error("announcement failed", logx.Err(err), logx.Int64("chat_id", set.Target.ChatID))
		} else {
			a.log.Info("announcement sent", logx.Int64("chat_id", set.Target.ChatID))
			a.bus.Publish(eventbus.Event{Type: eventbus.AnnouncerSent, Data: text})
		}
	}
	if !a.settings().Enabled {
		return
	}
	_ = a.book(a.pick(a.timers.Now().AddDate(0, 0, 1)))
}
