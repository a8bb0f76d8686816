package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLITE_BUSY away
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	ddl, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(ddl))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Enqueue(ctx context.Context, item post.QueuedItem) (string, error) {
	item, err := prepareQueued(item)
	if err != nil {
		return "", err
	}
	data, err := item.Payload.Encode()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meme_queue(id, post_data, created_at) VALUES(?, ?, ?)`,
		item.ID, data, item.EnqueuedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *sqliteStore) ListQueue(ctx context.Context) ([]post.QueuedItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, post_data, created_at FROM meme_queue ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []post.QueuedItem
	for rows.Next() {
		var id, data, created string
		if err := rows.Scan(&id, &data, &created); err != nil {
			return nil, err
		}
		item, err := decodeQueued(id, data, created)
		if err != nil {
			s.log.Warn("skipping unreadable queue row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteQueued(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meme_queue WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) CountQueue(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meme_queue`).Scan(&n)
	return n, err
}

func (s *sqliteStore) GetSpecial(ctx context.Context, slot post.Slot) (post.SpecialItem, bool, error) {
	var data, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT post_data, updated_at FROM special_posts WHERE post_type = ?`, string(slot),
	).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return post.SpecialItem{}, false, nil
	}
	if err != nil {
		return post.SpecialItem{}, false, err
	}
	p, err := post.DecodePayload(data)
	if err != nil {
		return post.SpecialItem{}, false, err
	}
	at, _ := time.Parse(time.RFC3339Nano, updated)
	return post.SpecialItem{Slot: slot, Payload: p, UpdatedAt: at}, true, nil
}

func (s *sqliteStore) PutSpecial(ctx context.Context, item post.SpecialItem) error {
	if err := item.Payload.Validate(); err != nil {
		return err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}
	data, err := item.Payload.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO special_posts(post_type, post_data, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(post_type) DO UPDATE SET post_data = excluded.post_data, updated_at = excluded.updated_at`,
		string(item.Slot), data, item.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSpecial(ctx context.Context, slot post.Slot) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM special_posts WHERE post_type = ?`, string(slot))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_state(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func decodeQueued(id, data, created string) (post.QueuedItem, error) {
	p, err := post.DecodePayload(data)
	if err != nil {
		return post.QueuedItem{}, err
	}
	at, _ := time.Parse(time.RFC3339Nano, created)
	return post.QueuedItem{ID: id, Payload: p, EnqueuedAt: at}, nil
}
