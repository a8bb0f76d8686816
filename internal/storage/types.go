// Package storage persists the publication queue, the pending special posts
// and the scheduler's recovery facts.
//
// Drivers: "sqlite" (default), "postgres", "file" (one JSON document) and
// "memory" (the file driver on an in-memory filesystem).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
)

var ErrClosed = errors.New("storage closed")

// KeyLastPublish holds the instant of the latest successful publication as
// RFC3339Nano.
const KeyLastPublish = "last_post_time"

type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration
}

// Queue keeps regular items in insertion order.
type Queue interface {
	// Enqueue appends item and returns its id. An empty id is generated.
	Enqueue(ctx context.Context, item post.QueuedItem) (string, error)
	ListQueue(ctx context.Context) ([]post.QueuedItem, error)
	// DeleteQueued reports whether an item was removed.
	DeleteQueued(ctx context.Context, id string) (bool, error)
	CountQueue(ctx context.Context) (int, error)
}

// Specials keeps at most one pending item per slot.
type Specials interface {
	GetSpecial(ctx context.Context, slot post.Slot) (post.SpecialItem, bool, error)
	// PutSpecial overwrites whatever the slot held.
	PutSpecial(ctx context.Context, item post.SpecialItem) error
	DeleteSpecial(ctx context.Context, slot post.Slot) (bool, error)
}

type State interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

type Store interface {
	Queue
	Specials
	State
	Close() error
}

func prepareQueued(item post.QueuedItem) (post.QueuedItem, error) {
	if err := item.Payload.Validate(); err != nil {
		return item, err
	}
	if item.ID == "" {
		item = post.NewQueued(item.Payload, item.EnqueuedAt)
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	return item, nil
}
