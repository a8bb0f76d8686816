package app

import (
	"testing"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/config"
)

func resolved(t *testing.T, cfg *config.Config) *config.Settings {
	t.Helper()
	set, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return set
}

func TestPostingSettings(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Telegram:  config.TelegramConfig{ChannelID: -100, TargetChatID: -200},
		Scheduler: config.SchedulerConfig{WindowOpen: "09:00", WindowClose: "21:00", SafetyRecompute: "2h"},
		Announcer: config.AnnouncerConfig{Enabled: true, Messages: []string{"hi"}},
	}
	set := resolved(t, cfg)
	ps := postingSettings(cfg, set)

	if ps.Channel.ChatID != -100 {
		t.Fatalf("Channel = %d, want -100", ps.Channel.ChatID)
	}
	if ps.Announcer.Target.ChatID != -200 {
		t.Fatalf("Announcer.Target = %d, want -200", ps.Announcer.Target.ChatID)
	}
	if ps.Window.Open.String() != "09:00" || ps.Window.Close.String() != "21:00" {
		t.Fatalf("Window = %s-%s, want 09:00-21:00", ps.Window.Open, ps.Window.Close)
	}
	// slots follow the window unless set explicitly
	if ps.Opening != ps.Window.Open || ps.Closing != ps.Window.Close {
		t.Fatalf("slots = %s/%s, want window bounds", ps.Opening, ps.Closing)
	}
	if ps.SafetyRecompute != 2*time.Hour {
		t.Fatalf("SafetyRecompute = %v, want 2h", ps.SafetyRecompute)
	}
	if ps.Window.Location.String() != config.DefaultTimezone {
		t.Fatalf("Location = %s, want %s", ps.Window.Location, config.DefaultTimezone)
	}
}

func TestLogSettingsChatNeedsTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chatID int64
		want   bool
	}{
		{"no log chat", 0, false},
		{"log chat set", -300, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{
				Telegram: config.TelegramConfig{LogChatID: tt.chatID},
				Logging:  config.LoggingConfig{Level: "info", Chat: config.LoggingChat{Enabled: true}},
			}
			got := logSettings(cfg)
			if got.Chat.Enabled != tt.want {
				t.Fatalf("Chat.Enabled = %v, want %v", got.Chat.Enabled, tt.want)
			}
			if got.Chat.ChatID != tt.chatID {
				t.Fatalf("Chat.ChatID = %d, want %d", got.Chat.ChatID, tt.chatID)
			}
		})
	}
}

func TestOperatorSettings(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Specials: config.SpecialsConfig{Closing: config.SlotConfig{At: "22:30", Signature: "Пока!"}},
		VK: config.VKConfig{
			PhotoCount:  5,
			Communities: []config.VKCommunity{{Name: "memes", ID: -1}, {Name: "cats", ID: -2}},
		},
	}
	set := resolved(t, cfg)
	got := operatorSettings(cfg, set)

	if got.Closing.At.String() != "22:30" || got.Closing.Signature != "Пока!" {
		t.Fatalf("Closing = %+v, want 22:30 / Пока!", got.Closing)
	}
	if got.Opening.Signature != "Доброе утро!" {
		t.Fatalf("Opening.Signature = %q, want default", got.Opening.Signature)
	}
	if len(got.Communities) != 2 || got.Communities[1].ID != -2 {
		t.Fatalf("Communities = %+v", got.Communities)
	}
	if got.PhotoCount != 5 {
		t.Fatalf("PhotoCount = %d, want 5", got.PhotoCount)
	}
}

func TestEngineSettingsFollowWeatherTimeout(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Greeting: config.GreetingConfig{WeatherTimeout: "8s"}}
	got := engineSettings(resolved(t, cfg))
	if got.DefaultTimeout != 4*time.Second {
		t.Fatalf("DefaultTimeout = %v, want 4s", got.DefaultTimeout)
	}
	if got.RetryMax != 2 {
		t.Fatalf("RetryMax = %d, want 2", got.RetryMax)
	}
}
