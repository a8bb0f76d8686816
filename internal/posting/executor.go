package posting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

var ErrNoDestination = errors.New("no destination chat configured")

const defaultPublishTimeout = 30 * time.Second

// Sender is the slice of the transport the posting core needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, opt *transport.SendOptions) (transport.MessageRef, error)
}

// ItemStore is what the executor consumes on success.
type ItemStore interface {
	storage.Queue
	storage.Specials
}

// Published is the payload of eventbus.PostPublished and eventbus.PostFailed.
type Published struct {
	ItemID string
	Slot   post.Slot // empty for queued items
	At     time.Time
	Err    string
}

// Executor delivers exactly one item per call. On success it consumes the
// item and advances the last publication time; on failure nothing durable
// changes and the item is not retried.
type Executor struct {
	log   logx.Logger
	out   Sender
	items ItemStore
	rc    *Context
	bus   eventbus.Bus
	now   func() time.Time

	mu      sync.RWMutex
	dest    transport.ChatTarget
	timeout time.Duration
}

func NewExecutor(log logx.Logger, out Sender, items ItemStore, rc *Context, bus eventbus.Bus, now func() time.Time) *Executor {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Executor{log: log, out: out, items: items, rc: rc, bus: bus, now: now, timeout: defaultPublishTimeout}
}

// Configure sets the channel publications go to and the per-send timeout.
func (e *Executor) Configure(dest transport.ChatTarget, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	e.mu.Lock()
	e.dest = dest
	e.timeout = timeout
	e.mu.Unlock()
}

func (e *Executor) target() (transport.ChatTarget, time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dest, e.timeout
}

// PublishQueued sends item, then deletes it from the queue and records the
// publication. An item no longer in the queue is skipped without sending.
func (e *Executor) PublishQueued(ctx context.Context, item post.QueuedItem) error {
	log := e.log.With(logx.String("item", item.ID))
	queued, err := e.stillQueued(ctx, item.ID)
	if err != nil {
		e.failed(log, Published{ItemID: item.ID}, err)
		return err
	}
	if !queued {
		log.Info("queued item gone; skipped")
		return nil
	}
	log.Info("publishing queued item")

	if err := e.send(ctx, item.Payload); err != nil {
		e.failed(log, Published{ItemID: item.ID}, err)
		return err
	}
	if _, err := e.items.DeleteQueued(ctx, item.ID); err != nil {
		log.Error("published item not removed from queue", logx.Err(err))
	}
	return e.consumed(ctx, log, Published{ItemID: item.ID})
}

func (e *Executor) stillQueued(ctx context.Context, id string) (bool, error) {
	items, err := e.items.ListQueue(ctx)
	if err != nil {
		return false, fmt.Errorf("list queue: %w", err)
	}
	for _, it := range items {
		if it.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// PublishSpecial publishes the pending item of slot. It reports false, and
// touches neither the transport nor any state, when the slot is empty.
func (e *Executor) PublishSpecial(ctx context.Context, slot post.Slot) (bool, error) {
	log := e.log.With(logx.String("slot", string(slot)))
	it, ok, err := e.items.GetSpecial(ctx, slot)
	if err != nil {
		log.Error("special lookup failed", logx.Err(err))
		return false, fmt.Errorf("get special %s: %w", slot, err)
	}
	if !ok {
		log.Info("no pending special post")
		return false, nil
	}
	log.Info("publishing special post")

	if err := e.send(ctx, it.Payload); err != nil {
		e.failed(log, Published{Slot: slot}, err)
		return true, err
	}
	if _, err := e.items.DeleteSpecial(ctx, slot); err != nil {
		log.Error("published special not removed", logx.Err(err))
	}
	return true, e.consumed(ctx, log, Published{Slot: slot})
}

func (e *Executor) send(ctx context.Context, p post.Payload) error {
	dest, timeout := e.target()
	if dest.ChatID == 0 {
		return ErrNoDestination
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := e.out.SendMedia(sctx, dest, transport.MediaFromPayload(p), nil); err != nil {
		return fmt.Errorf("send %s: %w", p.Kind, err)
	}
	return nil
}

func (e *Executor) consumed(ctx context.Context, log logx.Logger, ev Published) error {
	ev.At = e.now()
	err := e.rc.MarkPublished(ctx, ev.At)
	if err != nil {
		log.Error("last publication time not persisted", logx.Err(err))
	} else {
		log.Info("published", logx.Time("at", ev.At))
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.PostPublished, Time: ev.At, Data: ev})
	return err
}

func (e *Executor) failed(log logx.Logger, ev Published, err error) {
	ev.At = e.now()
	ev.Err = err.Error()
	log.Error("publication failed", logx.Err(err))
	e.bus.Publish(eventbus.Event{Type: eventbus.PostFailed, Time: ev.At, Data: ev})
}
