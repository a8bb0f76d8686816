// Package adapter implements transport.Adapter on top of telebot.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	rtsup "github.com/Larkinyegor/telegram-bot-bw/internal/runtime/supervisor"
	kit "github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

var errPollerExited = errors.New("poller exited")

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	})

	media := func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		msg := convertMessage(m)
		msg.Media = mediaOf(m)
		a.sendUpdate(kit.Update{Kind: kit.UpdateMedia, Message: msg})
		return nil
	}
	for _, ev := range []string{tele.OnPhoto, tele.OnVideo, tele.OnAnimation, tele.OnDocument} {
		a.bot.Handle(ev, media)
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				ThreadID:  m.ThreadID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})
}

func convertMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Text:      m.Text,
		IsPrivate: m.Private(),
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = m.ReplyTo.ID
	}
	return msg
}

// mediaOf returns nil for media the channel cannot republish (documents,
// stickers); the operator surface answers those with a hint.
func mediaOf(m *tele.Message) *kit.Media {
	switch {
	case m.Animation != nil:
		return &kit.Media{Kind: post.KindAnimation, FileID: m.Animation.FileID, Caption: m.Caption}
	case m.Photo != nil:
		return &kit.Media{Kind: post.KindImage, FileID: m.Photo.FileID, Caption: m.Caption}
	case m.Video != nil:
		return &kit.Media{Kind: post.KindClip, FileID: m.Video.FileID, Caption: m.Caption}
	}
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.Named("telegram.adapter")),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; an early return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errPollerExited
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithPublishFirstError(true))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Long polling may hold getUpdates open; never wait more than a short grace.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
	}
	if withMarkup {
		if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// Markup and reply go on the first chunk only.
		so := sendOptions(to, opt, i == 0)
		if i > 0 {
			so.ReplyTo = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	to := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
	chunks := splitText(text, telegramTextLimit, opt.ParseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(to, opt, true)
	so.ReplyTo, so.ThreadID = nil, 0
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOptions(to, opt, false)); err != nil {
			return err
		}
	}
	return nil
}

// sendable wraps a stored file id in the telebot type for its kind.
func sendable(m kit.Media) (tele.Sendable, error) {
	file := tele.File{FileID: m.FileID}
	switch m.Kind {
	case post.KindImage:
		return &tele.Photo{File: file, Caption: m.Caption}, nil
	case post.KindClip:
		return &tele.Video{File: file, Caption: m.Caption}, nil
	case post.KindAnimation:
		return &tele.Animation{File: file, Caption: m.Caption}, nil
	}
	return nil, fmt.Errorf("%w: unsupported media kind %q", post.ErrInvalidPayload, m.Kind)
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	what, err := sendable(m)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt, true))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

const albumLimit = 10

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, photoURLs []string) error {
	if len(photoURLs) == 0 {
		return nil
	}
	if len(photoURLs) > albumLimit {
		photoURLs = photoURLs[:albumLimit]
	}
	album := make(tele.Album, 0, len(photoURLs))
	for _, u := range photoURLs {
		album = append(album, &tele.Photo{File: tele.FromURL(u)})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.SendAlbum(&tele.Chat{ID: to.ChatID}, album, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// UpdateMenuCommands publishes the command menu. The call is skipped when the
// list did not change since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
