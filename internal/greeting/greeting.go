// Package greeting posts the daily "good morning" message with today's date,
// a weekday motto and the weather to the target chat.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/integrations/weather"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	noForecastText  = "Не найден прогноз на сегодня."
	weatherFailText = "Не удалось загрузить данные о погоде."
)

var ErrNoTarget = errors.New("greeting target chat is not configured")

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Indexed by time.Weekday, Sunday first.
var weekdays = [...]struct{ name, motto string }{
	{"Воскресенье", "терпение вспоминается."},
	{"Понедельник", "терпение начинается."},
	{"Вторник", "терпение усиливается."},
	{"Среда", "терпение максимизируется."},
	{"Четверг", "терпение дожимается."},
	{"Пятница", "терпение испаряется"},
	{"Суббота", "терпение забывается."},
}

// Text renders the greeting for the calendar day of now.
func Text(now time.Time, weatherText string) string {
	wd := weekdays[now.Weekday()]
	return fmt.Sprintf("Доброе утро всем! ☀️\n\nСегодня %d %s %d года.\nДень недели: %s - %s\n\n---\n\n%s",
		now.Day(), monthsGenitive[now.Month()-1], now.Year(), wd.name, wd.motto, weatherText)
}

type Forecaster interface {
	Today(ctx context.Context, city string, now time.Time) (weather.Summary, error)
}

// Caller runs a fallible upstream call; *engine.Runner implements it.
type Caller interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Timers interface {
	Now() time.Time
	ScheduleDaily(key scheduler.Key, clock daytime.Clock, fn scheduler.Func) error
	Cancel(key scheduler.Key) bool
}

type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Settings struct {
	Enabled        bool
	At             daytime.Clock
	City           string
	Target         transport.ChatTarget
	WeatherTimeout time.Duration
}

type Service struct {
	log    logx.Logger
	timers Timers
	out    Sender
	wx     Forecaster
	calls  Caller
	bus    eventbus.Bus

	mu  sync.RWMutex
	set Settings
}

// New builds the service. wx may be nil, in which case the weather part
// always reads as unavailable.
func New(log logx.Logger, timers Timers, out Sender, wx Forecaster, calls Caller, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{log: log.Named("greeting"), timers: timers, out: out, wx: wx, calls: calls, bus: bus}
}

func (s *Service) settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Apply stores set and installs or removes the daily timer.
func (s *Service) Apply(set Settings) error {
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()

	key := scheduler.Key{Kind: scheduler.KindGreeting}
	if !set.Enabled {
		s.timers.Cancel(key)
		return nil
	}
	return s.timers.ScheduleDaily(key, set.At, func(ctx context.Context) {
		if err := s.Send(ctx); err != nil {
			s.log.Error("daily greeting failed", logx.Err(err))
		}
	})
}

// Send composes and posts the greeting now, whether or not the daily timer
// is enabled.
func (s *Service) Send(ctx context.Context) error {
	set := s.settings()
	if set.Target.ChatID == 0 {
		return ErrNoTarget
	}
	now := s.timers.Now()
	text := Text(now, s.weatherText(ctx, set, now))
	if _, err := s.out.SendText(ctx, set.Target, text, nil); err != nil {
		return fmt.Errorf("send greeting to %d: %w", set.Target.ChatID, err)
	}
	s.log.Info("greeting sent", logx.Int64("chat_id", set.Target.ChatID))
	s.bus.Publish(eventbus.Event{Type: eventbus.GreetingSent, Data: text})
	return nil
}

func (s *Service) weatherText(ctx context.Context, set Settings, now time.Time) string {
	if s.wx == nil {
		return weatherFailText
	}
	if set.WeatherTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, set.WeatherTimeout)
		defer cancel()
	}
	var sum weather.Summary
	fetch := func(ctx context.Context) (err error) {
		sum, err = s.wx.Today(ctx, set.City, now)
		return err
	}
	var err error
	if s.calls != nil {
		err = s.calls.Do(ctx, "openweather", fetch)
	} else {
		err = fetch(ctx)
	}
	switch {
	case err == nil:
		return sum.Text()
	case errors.Is(err, weather.ErrNoForecast):
		return noForecastText
	default:
		s.log.Error("weather unavailable", logx.Err(err), logx.String("city", set.City))
		return weatherFailText
	}
}
