package config

import (
	"reflect"

	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, plus log fields describing the new values. Secrets are reported
// only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	section := func(name string, differ bool, f ...logx.Field) {
		if differ {
			changed = append(changed, name)
			fields = append(fields, f...)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		ot.Token != nt.Token || ot.ChannelID != nt.ChannelID || ot.TargetChatID != nt.TargetChatID ||
			ot.LogChatID != nt.LogChatID || ot.PollTimeout != nt.PollTimeout || ot.Workers != nt.Workers ||
			!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs),
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
	)
	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
	)
	section("scheduler", oldCfg.Scheduler != newCfg.Scheduler,
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		logx.String("scheduler.window", newCfg.Scheduler.WindowOpen+"-"+newCfg.Scheduler.WindowClose),
		logx.String("scheduler.safety_recompute", newCfg.Scheduler.SafetyRecompute),
	)
	section("specials", oldCfg.Specials != newCfg.Specials)
	section("announcer", !reflect.DeepEqual(oldCfg.Announcer, newCfg.Announcer),
		logx.Bool("announcer.enabled", newCfg.Announcer.Enabled),
		logx.Int("announcer.messages", len(newCfg.Announcer.Messages)),
	)
	section("greeting", oldCfg.Greeting != newCfg.Greeting,
		logx.Bool("greeting.enabled", newCfg.Greeting.Enabled),
		logx.Bool("greeting.weather_key_set", newCfg.Greeting.WeatherAPIKey != ""),
	)
	section("vk", !reflect.DeepEqual(oldCfg.VK, newCfg.VK),
		logx.Int("vk.communities", len(newCfg.VK.Communities)),
	)
	section("storage", oldCfg.Storage != newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
	)
	return changed, fields
}

// RequiresRestart reports changes the running process cannot apply in place.
func RequiresRestart(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Storage != newCfg.Storage
}
