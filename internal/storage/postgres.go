package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	pcfg.MaxConnLifetime = 5 * time.Minute
	pcfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	st := &postgresStore{pool: pool, log: log}
	ddl, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host))
	return st, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) Enqueue(ctx context.Context, item post.QueuedItem) (string, error) {
	item, err := prepareQueued(item)
	if err != nil {
		return "", err
	}
	data, err := item.Payload.Encode()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO meme_queue(id, post_data, created_at) VALUES($1, $2, $3)`,
		item.ID, data, item.EnqueuedAt,
	)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *postgresStore) ListQueue(ctx context.Context) ([]post.QueuedItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, post_data, created_at FROM meme_queue ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []post.QueuedItem
	for rows.Next() {
		var (
			id, data string
			created  time.Time
		)
		if err := rows.Scan(&id, &data, &created); err != nil {
			return nil, err
		}
		p, err := post.DecodePayload(data)
		if err != nil {
			s.log.Warn("skipping unreadable queue row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, post.QueuedItem{ID: id, Payload: p, EnqueuedAt: created})
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteQueued(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM meme_queue WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) CountQueue(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM meme_queue`).Scan(&n)
	return n, err
}

func (s *postgresStore) GetSpecial(ctx context.Context, slot post.Slot) (post.SpecialItem, bool, error) {
	var (
		data    string
		updated time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT post_data, updated_at FROM special_posts WHERE post_type = $1`, string(slot),
	).Scan(&data, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return post.SpecialItem{}, false, nil
	}
	if err != nil {
		return post.SpecialItem{}, false, err
	}
	p, err := post.DecodePayload(data)
	if err != nil {
		return post.SpecialItem{}, false, err
	}
	return post.SpecialItem{Slot: slot, Payload: p, UpdatedAt: updated}, true, nil
}

func (s *postgresStore) PutSpecial(ctx context.Context, item post.SpecialItem) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO special_posts(post_type, post_data, updated_at) VALUES($1, $2, $3)
		 ON CONFLICT (post_type) DO UPDATE SET post_data = EXCLUDED.post_data, updated_at = EXCLUDED.updated_at`,
		string(item.Slot), data, item.UpdatedAt,
	)
	return err
}

func (s *postgresStore) DeleteSpecial(ctx context.Context, slot post.Slot) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM special_posts WHERE post_type = $1`, string(slot))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM bot_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *postgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bot_state(key, value) VALUES($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return err
}
