// Package scheduler is the bot's timer loop: a typed registry of one-shot
// and recurring callbacks executed one at a time on a single goroutine.
//
// Callbacks run in non-decreasing fire-time order and never overlap with each
// other or with work handed to Do/Post, so code running inside the loop can
// read and mutate shared state without further locking.
package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotRunning = errors.New("timer loop not running")
	ErrBadKey     = errors.New("timer key requires a kind")
)

// Kind groups timers. Bulk cancellation works per kind.
type Kind string

const (
	KindQueue          Kind = "queue"
	KindSpecialOpening Kind = "special-opening"
	KindSpecialClosing Kind = "special-closing"
	KindAnnouncer      Kind = "announcer"
	KindDailyBoundary  Kind = "daily-boundary"
	KindStartup        Kind = "startup"
	KindGreeting       Kind = "greeting"
	KindSafetyNet      Kind = "safety-net"
)

// Key identifies a timer. ID distinguishes timers of the same kind, e.g. the
// queued item a queue timer publishes.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.ID
}

// Func is a timer callback. ctx ends when the loop stops.
type Func func(ctx context.Context)

// Entry describes a registered timer.
type Entry struct {
	Key     Key
	Next    time.Time
	Enabled bool
	// Trigger is "once", "daily HH:MM" or "every <duration>".
	Trigger string
}
