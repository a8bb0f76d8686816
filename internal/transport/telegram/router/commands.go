// Package router turns transport updates into handler calls: slash commands,
// inline-button callbacks ("scope:action:payload") and incoming media. Access
// checks and the middleware chain run before handlers, and handlers execute
// on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "github.com/Larkinyegor/telegram-bot-bw/internal/runtime/supervisor"
	kit "github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Hidden commands work but are left out of the Telegram menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// MediaRoute receives UpdateMedia messages.
type MediaRoute struct {
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

func (r *Request) Message() *kit.Message   { return r.Update.Message }
func (r *Request) Callback() *kit.Callback { return r.Update.Callback }

// Private reports whether the request came from a one-to-one chat.
func (r *Request) Private() bool {
	if m := r.Update.Message; m != nil {
		return m.IsPrivate
	}
	return r.Chat.ChatID == r.FromID
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

type Manager struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]map[string]CallbackRoute
	media     *MediaRoute
	owners    map[int64]struct{}

	runMu   sync.Mutex
	running bool

	jobs chan func()
}

func NewManager(log logx.Logger, adapter kit.Adapter, owners []int64, workers int) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	m := &Manager{
		log:       log,
		adapter:   adapter,
		workers:   workers,
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		jobs:      make(chan func(), 256),
	}
	m.SetOwners(owners)
	return m
}

// SetOwners replaces the owner allow-list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	set := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	m.owners = set
	m.mu.Unlock()
}

func (m *Manager) allowed(a Access, from int64) bool {
	if a == AccessEveryone {
		return true
	}
	m.mu.RLock()
	_, ok := m.owners[from]
	m.mu.RUnlock()
	return ok
}

// SetRegistry installs the handlers and refreshes the Telegram menu in the
// background.
func (m *Manager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute, media *MediaRoute) {
	byName := map[string]Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		byName[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}
	byScope := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		if r.Scope == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		if byScope[r.Scope] == nil {
			byScope[r.Scope] = map[string]CallbackRoute{}
		}
		byScope[r.Scope][r.Action] = r
	}

	m.mu.Lock()
	m.commands = byName
	m.callbacks = byScope
	m.media = media
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(cmds)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu commands not updated", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.Named("telegram.router")),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.running = true
	m.runMu.Unlock()
	m.log.Info("dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if job != nil {
		job()
	}
}

func (m *Manager) enqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeCommand(ctx, up)
	case kit.UpdateMedia:
		m.routeMedia(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Manager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (m *Manager) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(timeout))
}

func (m *Manager) routeCommand(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	m.mu.RLock()
	cmd, found := m.commands[name]
	m.mu.RUnlock()
	if !found {
		return
	}
	if !m.allowed(cmd.Access, msg.FromID) {
		m.log.Warn("unauthorized command", logx.String("cmd", name), logx.Int64("from_id", msg.FromID))
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID, name)
	req.Args = args
	final := m.chain(cmd.Handle, cmd.Timeout)
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		m.log.Warn("router busy; command dropped", logx.String("cmd", name))
	}
}

func (m *Manager) routeMedia(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	m.mu.RLock()
	route := m.media
	m.mu.RUnlock()
	if route == nil || route.Handle == nil || !m.allowed(route.Access, msg.FromID) {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID, "media")
	final := m.chain(route.Handle, route.Timeout)
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		m.log.Warn("router busy; media dropped")
	}
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := splitCallback(cb.Data)
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	m.mu.RLock()
	route, found := m.callbacks[scope][action]
	m.mu.RUnlock()
	if !found {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	if !m.allowed(route.Access, cb.FromID) {
		m.log.Warn("unauthorized callback", logx.String("data", cb.Data), logx.Int64("from_id", cb.FromID))
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, scope+":"+action)
	req.Payload = payload
	final := m.chain(func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }, route.Timeout)
	if !m.enqueue(func() {
		_ = final(ctx, req)
		// Stops the client spinner. A second answer after the handler's own fails and is ignored.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy", false)
	}
}
