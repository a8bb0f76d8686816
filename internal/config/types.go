package config

// Config is the on-disk configuration. JSON and YAML files share this shape.
//
// All durations are Go duration strings ("2s", "1h"); times of day are "HH:MM"
// in scheduler.timezone.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Specials  SpecialsConfig  `json:"specials"`
	Announcer AnnouncerConfig `json:"announcer"`
	Greeting  GreetingConfig  `json:"greeting"`
	VK        VKConfig        `json:"vk"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChannelID receives queued and special posts.
	ChannelID int64 `json:"channel_id"`
	// TargetChatID receives the daily greeting and announcer messages.
	TargetChatID int64  `json:"target_chat_id,omitempty"`
	LogChatID    int64  `json:"log_chat_id,omitempty"`
	PollTimeout  string `json:"poll_timeout,omitempty"`
	Workers      int    `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig shapes the publication window.
//
// Defaults:
//   - timezone: "Europe/Moscow"
//   - window_open / window_close: "10:00" / "23:00"
//   - startup_cooldown / publish_cooldown: "1h"
//   - daily_recompute: "00:01"
//   - startup_delay: "2s"
//   - safety_recompute: "0s" (disabled)
//   - publish_timeout: "30s"
type SchedulerConfig struct {
	Timezone        string `json:"timezone,omitempty"`
	WindowOpen      string `json:"window_open,omitempty"`
	WindowClose     string `json:"window_close,omitempty"`
	StartupCooldown string `json:"startup_cooldown,omitempty"`
	PublishCooldown string `json:"publish_cooldown,omitempty"`
	DailyRecompute  string `json:"daily_recompute,omitempty"`
	StartupDelay    string `json:"startup_delay,omitempty"`
	SafetyRecompute string `json:"safety_recompute,omitempty"`
	PublishTimeout  string `json:"publish_timeout,omitempty"`
}

type SpecialsConfig struct {
	Opening SlotConfig `json:"opening"`
	Closing SlotConfig `json:"closing"`
}

// SlotConfig describes one fixed daily publication slot. Signature is
// appended below the operator's caption.
type SlotConfig struct {
	At        string `json:"at,omitempty"`
	Signature string `json:"signature,omitempty"`
	Label     string `json:"label,omitempty"`
}

type AnnouncerConfig struct {
	Enabled  bool     `json:"enabled"`
	Messages []string `json:"messages,omitempty"`
	// From and To bound the random instant, inclusive, at minute precision.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type GreetingConfig struct {
	Enabled        bool   `json:"enabled"`
	At             string `json:"at,omitempty"`
	City           string `json:"city,omitempty"`
	WeatherAPIKey  string `json:"openweather_api_key,omitempty"`
	WeatherTimeout string `json:"weather_timeout,omitempty"`
}

type VKConfig struct {
	ServiceToken string        `json:"service_token,omitempty"`
	APIVersion   string        `json:"api_version,omitempty"`
	PhotoCount   int           `json:"photo_count,omitempty"`
	Communities  []VKCommunity `json:"communities,omitempty"`
}

type VKCommunity struct {
	Name string `json:"name"`
	// ID is the wall owner id; communities are negative.
	ID int64 `json:"id"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./bot_data.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "file", "path": "./bot_state.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
