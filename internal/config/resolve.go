package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	DefaultTimezone   = "Europe/Moscow"
	DefaultVKVersion  = "5.131"
	DefaultPhotoCount = 10
)

var (
	defaultOpen           = daytime.MustParse("10:00")
	defaultClose          = daytime.MustParse("23:00")
	defaultDailyRecompute = daytime.MustParse("00:01")
	defaultAnnounceFrom   = daytime.MustParse("10:00")
	defaultAnnounceTo     = daytime.MustParse("22:59")
)

// Slot is a resolved special slot.
type Slot struct {
	At        daytime.Clock
	Signature string
	Label     string
}

// Settings is Config with defaults filled in and every string field parsed.
type Settings struct {
	Location *time.Location

	WindowOpen      daytime.Clock
	WindowClose     daytime.Clock
	StartupCooldown time.Duration
	PublishCooldown time.Duration
	DailyRecompute  daytime.Clock
	StartupDelay    time.Duration
	SafetyRecompute time.Duration
	PublishTimeout  time.Duration

	Opening Slot
	Closing Slot

	AnnounceFrom daytime.Clock
	AnnounceTo   daytime.Clock

	GreetingAt     daytime.Clock
	WeatherTimeout time.Duration

	PollTimeout time.Duration
	BusyTimeout time.Duration
}

// Resolve parses cfg. It does not enforce required fields; see Validate.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var (
		s    Settings
		errs []error
	)
	clock := func(path, raw string, def daytime.Clock) daytime.Clock {
		c, err := ParseClockOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return c
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		loc = time.UTC
	}
	s.Location = loc

	sc := cfg.Scheduler
	s.WindowOpen = clock("scheduler.window_open", sc.WindowOpen, defaultOpen)
	s.WindowClose = clock("scheduler.window_close", sc.WindowClose, defaultClose)
	s.StartupCooldown = dur("scheduler.startup_cooldown", sc.StartupCooldown, time.Hour)
	s.PublishCooldown = dur("scheduler.publish_cooldown", sc.PublishCooldown, time.Hour)
	s.DailyRecompute = clock("scheduler.daily_recompute", sc.DailyRecompute, defaultDailyRecompute)
	s.StartupDelay = dur("scheduler.startup_delay", sc.StartupDelay, 2*time.Second)
	s.SafetyRecompute = dur("scheduler.safety_recompute", sc.SafetyRecompute, 0)
	s.PublishTimeout = dur("scheduler.publish_timeout", sc.PublishTimeout, 30*time.Second)

	s.Opening = Slot{
		At:        clock("specials.opening.at", cfg.Specials.Opening.At, s.WindowOpen),
		Signature: orDefault(cfg.Specials.Opening.Signature, "Доброе утро!"),
		Label:     orDefault(cfg.Specials.Opening.Label, "Доброе утро!"),
	}
	s.Closing = Slot{
		At:        clock("specials.closing.at", cfg.Specials.Closing.At, s.WindowClose),
		Signature: orDefault(cfg.Specials.Closing.Signature, "Спокойной ночи!"),
		Label:     orDefault(cfg.Specials.Closing.Label, "Спокойной ночи!"),
	}

	s.AnnounceFrom = clock("announcer.from", cfg.Announcer.From, defaultAnnounceFrom)
	s.AnnounceTo = clock("announcer.to", cfg.Announcer.To, defaultAnnounceTo)

	s.GreetingAt = clock("greeting.at", cfg.Greeting.At, s.WindowOpen)
	s.WeatherTimeout = dur("greeting.weather_timeout", cfg.Greeting.WeatherTimeout, 10*time.Second)

	s.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	s.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate is the reload gate: a config that fails here is never committed.
func Validate(cfg *Config) error {
	s, err := Resolve(cfg)
	if err != nil {
		return err
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if cfg.Telegram.ChannelID == 0 {
		errs = append(errs, errors.New("telegram.channel_id is required"))
	}
	if !s.WindowOpen.Before(s.WindowClose) {
		errs = append(errs, fmt.Errorf("scheduler.window_open (%s) must be before window_close (%s)", s.WindowOpen, s.WindowClose))
	}
	if s.AnnounceTo.Before(s.AnnounceFrom) {
		errs = append(errs, fmt.Errorf("announcer.from (%s) must not be after announcer.to (%s)", s.AnnounceFrom, s.AnnounceTo))
	}
	if cfg.Greeting.Enabled && cfg.Telegram.TargetChatID == 0 {
		errs = append(errs, errors.New("greeting.enabled requires telegram.target_chat_id"))
	}
	if cfg.Announcer.Enabled && cfg.Telegram.TargetChatID == 0 {
		errs = append(errs, errors.New("announcer.enabled requires telegram.target_chat_id"))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file", "memory":
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	for i, c := range cfg.VK.Communities {
		if strings.TrimSpace(c.Name) == "" || c.ID == 0 {
			errs = append(errs, fmt.Errorf("vk.communities[%d]: name and id are required", i))
		}
	}
	return errors.Join(errs...)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
