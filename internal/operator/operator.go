// Package operator is the owner-facing Telegram surface: the inline menu for
// submitting posts, the queue viewer, and a handful of utility commands
// (/jobs, /rate, /morning, /vk). It only talks to the posting core through
// narrow interfaces and never touches timers directly.
package operator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

var ErrBadPayload = errors.New("bad callback payload")

// QueueControl changes the regular queue and reschedules it.
// *posting.Scheduler implements it.
type QueueControl interface {
	Enqueue(ctx context.Context, p post.Payload) (post.QueuedItem, int, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// Items is the read side of the queue plus the special slots.
type Items interface {
	storage.Queue
	storage.Specials
}

type JobLister interface {
	Entries() []scheduler.Entry
	Now() time.Time
}

type Greeter interface {
	Send(ctx context.Context) error
}

type PhotoSource interface {
	LatestPhotos(ctx context.Context, ownerID int64, count int) ([]string, error)
}

// Caller runs a fallible upstream call; *engine.Runner implements it.
type Caller interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Slot struct {
	At        daytime.Clock
	Signature string
	Label     string
}

type Community struct {
	Name string
	ID   int64
}

type Settings struct {
	Opening     Slot
	Closing     Slot
	Communities []Community
	PhotoCount  int
}

type Deps struct {
	Log    logx.Logger
	Queue  QueueControl
	Items  Items
	Jobs   JobLister
	Greet  Greeter
	Photos PhotoSource
	Calls  Caller
}

type Operator struct {
	log    logx.Logger
	queue  QueueControl
	items  Items
	jobs   JobLister
	greet  Greeter
	photos PhotoSource
	calls  Caller
	intn   func(n int) int
	now    func() time.Time

	sessions *sessions

	mu  sync.RWMutex
	set Settings
}

func New(d Deps, set Settings) *Operator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	o := &Operator{
		log:      d.Log.Named("operator"),
		queue:    d.Queue,
		items:    d.Items,
		jobs:     d.Jobs,
		greet:    d.Greet,
		photos:   d.Photos,
		calls:    d.Calls,
		intn:     rand.IntN,
		now:      time.Now,
		sessions: newSessions(),
	}
	o.Configure(set)
	return o
}

// Configure swaps the settings; open sessions survive.
func (o *Operator) Configure(set Settings) {
	if set.PhotoCount <= 0 {
		set.PhotoCount = 10
	}
	set.Communities = append([]Community(nil), set.Communities...)
	o.mu.Lock()
	o.set = set
	o.mu.Unlock()
}

func (o *Operator) settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.set
}

func (o *Operator) slot(s post.Slot) Slot {
	set := o.settings()
	if s == post.SlotClosing {
		return set.Closing
	}
	return set.Opening
}

// Commands lists the slash commands for router.Manager.SetRegistry.
func (o *Operator) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "меню постинга", Handle: o.cmdStart},
		{Name: "jobs", Description: "запланированные задачи", Handle: o.cmdJobs},
		{Name: "rate", Description: "оценить сообщение (ответом)", Access: router.AccessEveryone, Handle: o.cmdRate},
		{Name: "morning", Description: "отправить утреннее приветствие", Timeout: time.Minute, Handle: o.cmdMorning},
		{Name: "vk", Description: "фото из сообществ VK", Handle: o.cmdVK},
	}
}

func (o *Operator) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: scopeMenu, Action: actStart, Handle: o.cbStart},
		{Scope: scopeMenu, Action: actPost, Handle: o.cbPostMenu},
		{Scope: scopeMenu, Action: actPrompt, Handle: o.cbPrompt},
		{Scope: scopeQueue, Action: actView, Handle: o.cbView},
		{Scope: scopeQueue, Action: actDelete, Handle: o.cbDelete},
		{Scope: scopeVK, Action: actPick, Timeout: 2 * time.Minute, Handle: o.cbVKPick},
	}
}

func (o *Operator) Media() *router.MediaRoute {
	return &router.MediaRoute{Handle: o.handleMedia}
}

// target is what the next media message from an owner is for.
type target string

const (
	targetOpening target = "opening"
	targetClosing target = "closing"
	targetQueue   target = "queue"
)

func (t target) valid() bool {
	return t == targetOpening || t == targetClosing || t == targetQueue
}

type sessions struct {
	mu sync.Mutex
	m  map[int64]target
}

func newSessions() *sessions { return &sessions{m: map[int64]target{}} }

func (s *sessions) await(user int64, t target) {
	s.mu.Lock()
	s.m[user] = t
	s.mu.Unlock()
}

// take returns and clears the user's pending target.
func (s *sessions) take(user int64) (target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[user]
	delete(s.m, user)
	return t, ok
}

func (s *sessions) peek(user int64) (target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[user]
	return t, ok
}

func (s *sessions) clear(user int64) {
	s.mu.Lock()
	delete(s.m, user)
	s.mu.Unlock()
}
