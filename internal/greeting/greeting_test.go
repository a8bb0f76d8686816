package greeting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/integrations/weather"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/engine"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*3600)

type fakeTimers struct {
	now   time.Time
	daily map[scheduler.Key]daytime.Clock
	fns   map[scheduler.Key]scheduler.Func
}

func newFakeTimers(now time.Time) *fakeTimers {
	return &fakeTimers{now: now, daily: map[scheduler.Key]daytime.Clock{}, fns: map[scheduler.Key]scheduler.Func{}}
}

func (f *fakeTimers) Now() time.Time { return f.now }

func (f *fakeTimers) ScheduleDaily(key scheduler.Key, c daytime.Clock, fn scheduler.Func) error {
	f.daily[key] = c
	f.fns[key] = fn
	return nil
}

func (f *fakeTimers) Cancel(key scheduler.Key) bool {
	_, ok := f.daily[key]
	delete(f.daily, key)
	delete(f.fns, key)
	return ok
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

type fakeForecaster struct {
	sum weather.Summary
	err error
}

func (f fakeForecaster) Today(context.Context, string, time.Time) (weather.Summary, error) {
	return f.sum, f.err
}

func TestText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		day  time.Time
		want string
	}{
		{
			day:  time.Date(2024, 5, 1, 10, 0, 0, 0, msk),
			want: "Доброе утро всем! ☀️\n\nСегодня 1 мая 2024 года.\nДень недели: Среда - терпение максимизируется.\n\n---\n\nW",
		},
		{
			day:  time.Date(2024, 12, 6, 10, 0, 0, 0, msk),
			want: "Доброе утро всем! ☀️\n\nСегодня 6 декабря 2024 года.\nДень недели: Пятница - терпение испаряется\n\n---\n\nW",
		},
		{
			day:  time.Date(2024, 1, 7, 10, 0, 0, 0, msk),
			want: "Доброе утро всем! ☀️\n\nСегодня 7 января 2024 года.\nДень недели: Воскресенье - терпение вспоминается.\n\n---\n\nW",
		},
	}
	for _, tt := range tests {
		if got := Text(tt.day, "W"); got != tt.want {
			t.Fatalf("Text(%v) = %q, want %q", tt.day, got, tt.want)
		}
	}
}

func TestSendWeatherFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		wx   Forecaster
		want string
	}{
		{name: "ok", wx: fakeForecaster{sum: weather.Summary{City: "Москва", Description: "Ясно"}}, want: "🌤️ Погода в г. Москва:"},
		{name: "no forecast", wx: fakeForecaster{err: engine.NoRetry(weather.ErrNoForecast)}, want: noForecastText},
		{name: "upstream down", wx: fakeForecaster{err: errors.New("dial tcp: refused")}, want: weatherFailText},
		{name: "no client", wx: nil, want: weatherFailText},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			timers := newFakeTimers(time.Date(2024, 5, 1, 10, 0, 0, 0, msk))
			out := &fakeSender{}
			runner := engine.New(engine.Config{CircuitTripFailures: -1}, logx.Nop(), nil)
			s := New(logx.Nop(), timers, out, tt.wx, runner, nil)
			if err := s.Apply(Settings{City: "Москва", Target: transport.ChatTarget{ChatID: 7}}); err != nil {
				t.Fatalf("Apply() err = %v", err)
			}
			if err := s.Send(context.Background()); err != nil {
				t.Fatalf("Send() err = %v", err)
			}
			if len(out.texts) != 1 || !strings.Contains(out.texts[0], "---\n\n"+tt.want) {
				t.Fatalf("sent = %q, want weather part %q", out.texts, tt.want)
			}
		})
	}
}

func TestApplyInstallsDailyTimer(t *testing.T) {
	t.Parallel()

	timers := newFakeTimers(time.Date(2024, 5, 1, 9, 0, 0, 0, msk))
	out := &fakeSender{}
	s := New(logx.Nop(), timers, out, nil, nil, nil)
	key := scheduler.Key{Kind: scheduler.KindGreeting}

	at := daytime.MustParse("10:00")
	if err := s.Apply(Settings{Enabled: true, At: at, Target: transport.ChatTarget{ChatID: 7}}); err != nil {
		t.Fatalf("Apply() err = %v", err)
	}
	if got := timers.daily[key]; got != at {
		t.Fatalf("daily timer at %v, want %v", got, at)
	}
	timers.fns[key](context.Background())
	if len(out.texts) != 1 {
		t.Fatalf("timer sent %d messages, want 1", len(out.texts))
	}

	if err := s.Apply(Settings{Enabled: false}); err != nil {
		t.Fatalf("Apply(disabled) err = %v", err)
	}
	if _, ok := timers.daily[key]; ok {
		t.Fatalf("timer still installed after disable")
	}
}

func TestSendWithoutTarget(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop(), newFakeTimers(time.Now()), &fakeSender{}, nil, nil, nil)
	if err := s.Send(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("Send() err = %v, want %v", err, ErrNoTarget)
	}
}
