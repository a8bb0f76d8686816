package main

import (
	"context"
	"fmt"

	"github.com/Larkinyegor/telegram-bot-bw/internal/config"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// openStore opens the storage named by the config file without starting the
// bot. A running bot only sees changes at its next startup recompute.
func openStore(ctx context.Context, cfgPath string) (storage.Store, *config.Settings, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, nil, err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	st, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: set.BusyTimeout,
	}, logx.NewConsole("WARN"))
	if err != nil {
		return nil, nil, err
	}
	return st, set, nil
}
