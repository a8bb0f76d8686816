package posting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
)

// Context carries the scheduler's recovery facts. processStart lives only in
// memory; lastPublish is written through to the state store on every change.
type Context struct {
	state storage.State

	mu           sync.RWMutex
	processStart time.Time
	lastPublish  time.Time
}

// LoadContext restores lastPublish from st. A missing or unreadable value
// means no publication is known.
func LoadContext(ctx context.Context, st storage.State, processStart time.Time) (*Context, error) {
	c := &Context{state: st, processStart: processStart}
	raw, ok, err := st.GetState(ctx, storage.KeyLastPublish)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", storage.KeyLastPublish, err)
	}
	if ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c, fmt.Errorf("parse %s %q: %w", storage.KeyLastPublish, raw, err)
		}
		c.lastPublish = t
	}
	return c, nil
}

func (c *Context) ProcessStart() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processStart
}

// LastPublish returns the latest successful publication, ok=false if none.
func (c *Context) LastPublish() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublish, !c.lastPublish.IsZero()
}

// MarkPublished records a successful publication at at. The in-memory value
// moves even when persisting fails, since the publication did happen.
func (c *Context) MarkPublished(ctx context.Context, at time.Time) error {
	c.mu.Lock()
	c.lastPublish = at
	c.mu.Unlock()
	if err := c.state.SetState(ctx, storage.KeyLastPublish, at.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("persist %s: %w", storage.KeyLastPublish, err)
	}
	return nil
}

func (c *Context) snapshot() Recovery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Recovery{ProcessStart: c.processStart, LastPublish: c.lastPublish}
}
