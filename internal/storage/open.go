package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	defaultSQLitePath = "./bot_data.db"
	defaultFilePath   = "./bot_state.json"
)

// Open connects the configured driver and applies its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = defaultSQLitePath
		}
		return openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = defaultFilePath
		}
		st, err := openFile(afero.NewOsFs(), cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewMemory returns a volatile store, handy for tests and dry runs.
func NewMemory() Store {
	st, err := openFile(afero.NewMemMapFs(), "/state.json", logx.Nop())
	if err != nil {
		// an empty in-memory filesystem cannot fail to open
		panic(err)
	}
	return st
}
