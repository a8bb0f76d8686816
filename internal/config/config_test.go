package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  channel_id: -1001
  target_chat_id: -1002
logging:
  level: debug
  console: true
scheduler:
  window_open: "09:30"
  safety_recompute: "2h"
announcer:
  enabled: true
  messages: ["hi", "hello"]
storage:
  driver: memory
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Telegram.ChannelID != -1001 || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}

	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.WindowOpen.String() != "09:30" || s.WindowClose.String() != "23:00" {
		t.Fatalf("window = %s-%s", s.WindowOpen, s.WindowClose)
	}
	if s.Opening.At != s.WindowOpen {
		t.Fatalf("opening slot = %s, want window open %s", s.Opening.At, s.WindowOpen)
	}
	if s.SafetyRecompute != 2*time.Hour || s.StartupCooldown != time.Hour || s.StartupDelay != 2*time.Second {
		t.Fatalf("durations = %v %v %v", s.SafetyRecompute, s.StartupCooldown, s.StartupDelay)
	}
	if s.Location.String() != DefaultTimezone {
		t.Fatalf("location = %s, want %s", s.Location, DefaultTimezone)
	}
}

func TestExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := NewManager(filepath.Join("..", "..", "config.example.yaml")).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Announcer.Enabled || len(cfg.Announcer.Messages) == 0 {
		t.Fatalf("announcer = %+v, want enabled with messages", cfg.Announcer)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x","bogus":1}}`))
	if err == nil {
		t.Fatalf("Decode: expected error for unknown field")
	}
	_, err = Decode("c.json", []byte(`{} {}`))
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("Decode trailing = %v, want trailing data error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t", ChannelID: -1}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "inverted window", mutate: func(c *Config) { c.Scheduler.WindowOpen = "23:30" }, wantErr: "window_open"},
		{name: "bad duration", mutate: func(c *Config) { c.Scheduler.PublishCooldown = "soon" }, wantErr: "publish_cooldown"},
		{name: "bad tz", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "greeting without chat", mutate: func(c *Config) { c.Greeting.Enabled = true }, wantErr: "target_chat_id"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "unknown driver"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a := &Config{Scheduler: SchedulerConfig{WindowOpen: "10:00"}}
	b := &Config{Scheduler: SchedulerConfig{WindowOpen: "11:00"}, Storage: StorageConfig{Driver: "file"}}
	changed, _ := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "scheduler,storage" {
		t.Fatalf("changed = %v, want [scheduler storage]", changed)
	}
	if !RequiresRestart(a, b) {
		t.Fatalf("RequiresRestart = false, want true for storage change")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("subscriber got stale config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
}
