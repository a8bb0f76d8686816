// Package eventbus is an in-process fan-out of small domain events.
//
// Publish never blocks. Subscribers get buffered channels and lose events
// they are too slow to receive.
package eventbus

import (
	"sync"
	"time"
)

const (
	QueueRecomputed = "queue.recomputed"
	PostPublished   = "post.published"
	PostFailed      = "post.failed"
	AnnouncerSent   = "announcer.sent"
	GreetingSent    = "greeting.sent"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &memBus{subs: map[uint64]chan Event{}} }

type memBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
