package app

import (
	"strings"

	"github.com/Larkinyegor/telegram-bot-bw/internal/config"
	"github.com/Larkinyegor/telegram-bot-bw/internal/greeting"
	"github.com/Larkinyegor/telegram-bot-bw/internal/operator"
	"github.com/Larkinyegor/telegram-bot-bw/internal/posting"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/engine"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// Everything below maps the on-disk config onto component settings. cfg has
// already passed config.Resolve, so set is never nil here.

func postingSettings(cfg *config.Config, set *config.Settings) posting.Settings {
	target := transport.ChatTarget{ChatID: cfg.Telegram.TargetChatID}
	return posting.Settings{
		Window: posting.Window{
			Location:        set.Location,
			Open:            set.WindowOpen,
			Close:           set.WindowClose,
			StartupCooldown: set.StartupCooldown,
			PublishCooldown: set.PublishCooldown,
		},
		Opening:         set.Opening.At,
		Closing:         set.Closing.At,
		DailyRecompute:  set.DailyRecompute,
		StartupDelay:    set.StartupDelay,
		SafetyRecompute: set.SafetyRecompute,
		Channel:         transport.ChatTarget{ChatID: cfg.Telegram.ChannelID},
		PublishTimeout:  set.PublishTimeout,
		Announcer: posting.AnnouncerSettings{
			Enabled:  cfg.Announcer.Enabled,
			Messages: cfg.Announcer.Messages,
			From:     set.AnnounceFrom,
			To:       set.AnnounceTo,
			Target:   target,
		},
	}
}

func greetingSettings(cfg *config.Config, set *config.Settings) greeting.Settings {
	return greeting.Settings{
		Enabled:        cfg.Greeting.Enabled,
		At:             set.GreetingAt,
		City:           strings.TrimSpace(cfg.Greeting.City),
		Target:         transport.ChatTarget{ChatID: cfg.Telegram.TargetChatID},
		WeatherTimeout: set.WeatherTimeout,
	}
}

func operatorSettings(cfg *config.Config, set *config.Settings) operator.Settings {
	out := operator.Settings{
		Opening:    operator.Slot(set.Opening),
		Closing:    operator.Slot(set.Closing),
		PhotoCount: cfg.VK.PhotoCount,
	}
	for _, c := range cfg.VK.Communities {
		out.Communities = append(out.Communities, operator.Community{Name: c.Name, ID: c.ID})
	}
	return out
}

func logSettings(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func storageSettings(cfg *config.Config, set *config.Settings) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: set.BusyTimeout,
	}
}

// engineSettings tunes the retry runner for the weather and VK calls. The
// per-attempt bound follows the weather timeout so a slow upstream still
// leaves room for a retry.
func engineSettings(set *config.Settings) engine.Config {
	attempt := set.WeatherTimeout / 2
	return engine.Config{
		DefaultTimeout: attempt,
		RetryMax:       2,
		RatePerSecond:  2,
		RateBurst:      4,
	}
}
