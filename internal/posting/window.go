package posting

import (
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
)

// Window is the daily span in which queued items may be published, plus the
// quiet periods after a restart and after the previous publication.
type Window struct {
	Location        *time.Location
	Open            daytime.Clock
	Close           daytime.Clock
	StartupCooldown time.Duration
	PublishCooldown time.Duration
}

// Recovery is a read-only copy of Context.
type Recovery struct {
	ProcessStart time.Time
	LastPublish  time.Time // zero when unknown
}

type Fire struct {
	Item post.QueuedItem
	At   time.Time
}

// Plan is the outcome of spreading the queue over what is left of today.
type Plan struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
	Fires    []Fire
}

// Closed reports whether nothing can be published today.
func (p Plan) Closed() bool { return !p.Start.Before(p.End) }

// Bounds returns today's effective start and end. start is the latest of now,
// the opening time, processStart+StartupCooldown and
// lastPublish+PublishCooldown (now when no publication is known).
func (w Window) Bounds(now time.Time, rc Recovery) (start, end time.Time) {
	if w.Location != nil {
		now = now.In(w.Location)
	}
	afterPublish := now
	if !rc.LastPublish.IsZero() {
		afterPublish = rc.LastPublish.Add(w.PublishCooldown)
	}
	start = latest(now, w.Open.On(now), rc.ProcessStart.Add(w.StartupCooldown), afterPublish)
	return start, w.Close.On(now)
}

// ComputePlan assigns item i the instant start + interval*(i+1), where
// interval = (end-start)/(N+1). Items keep queue order. A closed window or
// an empty queue yields a plan without fires.
func (w Window) ComputePlan(now time.Time, rc Recovery, items []post.QueuedItem) Plan {
	start, end := w.Bounds(now, rc)
	p := Plan{Start: start, End: end}
	if len(items) == 0 || p.Closed() {
		return p
	}
	p.Interval = end.Sub(start) / time.Duration(len(items)+1)
	p.Fires = make([]Fire, len(items))
	for i, it := range items {
		p.Fires[i] = Fire{Item: it, At: start.Add(p.Interval * time.Duration(i+1))}
	}
	return p
}

func latest(ts ...time.Time) time.Time {
	m := ts[0]
	for _, t := range ts[1:] {
		if t.After(m) {
			m = t
		}
	}
	return m
}
