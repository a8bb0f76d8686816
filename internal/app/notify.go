package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// sdNotify reports state to systemd when running as a Type=notify unit.
// Outside systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx ends.
func watchdog(ctx context.Context, log logx.Logger) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog settings unreadable", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
