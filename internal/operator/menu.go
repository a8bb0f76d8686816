package operator

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/tgui"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	scopeMenu  = "menu"
	scopeQueue = "queue"
	scopeVK    = "vk"

	actStart  = "start"
	actPost   = "post"
	actPrompt = "prompt"
	actView   = "view"
	actDelete = "del"
	actPick   = "pick"
)

const (
	textGroupOnly   = "Для управления ботом, пожалуйста, напишите мне в личные сообщения."
	textMainMenu    = "Привет, Администратор! Выбери действие:"
	textPostMenu    = "Выбери тип поста:"
	textAskMedia    = "Пожалуйста, отправь фото, видео или гифку."
	textPromptQueue = "Кидай мемы! Я добавлю их в очередь на публикацию. Если добавишь к медиа текст, я опубликую его вместе с ним."
	promptSpecial   = "Отправь медиа для %s поста. Текст, который ты добавишь к медиа, будет опубликован над основной подписью."

	btnPosting   = "Постинг мемов"
	btnRegular   = "Обычный постинг"
	btnViewQueue = "👀 Просмотр очереди"
	btnBack      = "⬅️ Назад"
	btnBackMenu  = "⬅️ Назад в меню"
	pendingMark  = " ✅"
)

func mainMenu() *tele.ReplyMarkup {
	return tgui.NewInline().Row(tgui.Btn(btnPosting, tgui.Data(scopeMenu, actPost, ""))).Markup()
}

func backToMenu() *tele.ReplyMarkup {
	return tgui.NewInline().Row(tgui.Btn(btnBackMenu, tgui.Data(scopeMenu, actPost, ""))).Markup()
}

func (o *Operator) postMenu(ctx context.Context) *tele.ReplyMarkup {
	label := func(s post.Slot) string {
		l := o.slot(s).Label
		if _, ok, err := o.items.GetSpecial(ctx, s); err != nil {
			o.log.Warn("special slot read failed", logx.String("slot", string(s)), logx.Err(err))
		} else if ok {
			l += pendingMark
		}
		return l
	}
	return tgui.NewInline().Column(
		tgui.Btn(label(post.SlotOpening), tgui.Data(scopeMenu, actPrompt, string(targetOpening))),
		tgui.Btn(label(post.SlotClosing), tgui.Data(scopeMenu, actPrompt, string(targetClosing))),
		tgui.Btn(btnRegular, tgui.Data(scopeMenu, actPrompt, string(targetQueue))),
		tgui.Btn(btnViewQueue, tgui.Data(scopeQueue, actView, "0")),
		tgui.Btn(btnBack, tgui.Data(scopeMenu, actStart, "")),
	).Markup()
}

func prompt(t target) string {
	switch t {
	case targetOpening:
		return fmt.Sprintf(promptSpecial, "утреннего")
	case targetClosing:
		return fmt.Sprintf(promptSpecial, "вечернего")
	default:
		return textPromptQueue
	}
}

// messageRef is the message a callback button belongs to.
func messageRef(req *router.Request) (transport.MessageRef, bool) {
	cb := req.Callback()
	if cb == nil || cb.MessageID == 0 {
		return transport.MessageRef{}, false
	}
	return transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}, true
}

// show replaces the callback's message with text. Media messages cannot be
// edited into text, so those are deleted and a fresh message is sent.
func show(ctx context.Context, req *router.Request, text string, markup *tele.ReplyMarkup) error {
	opt := &transport.SendOptions{Markup: markup}
	if ref, ok := messageRef(req); ok {
		if err := req.Adapter.EditText(ctx, ref, text, opt); err == nil {
			return nil
		}
		_ = req.Adapter.DeleteMessage(ctx, ref)
	}
	_, err := req.Reply(ctx, text, opt)
	return err
}

func (o *Operator) cmdStart(ctx context.Context, req *router.Request) error {
	if !req.Private() {
		_, err := req.Reply(ctx, textGroupOnly, nil)
		return err
	}
	o.sessions.clear(req.FromID)
	_, err := req.Reply(ctx, textMainMenu, &transport.SendOptions{Markup: mainMenu()})
	return err
}

func (o *Operator) cbStart(ctx context.Context, req *router.Request, _ string) error {
	return show(ctx, req, textMainMenu, mainMenu())
}

func (o *Operator) cbPostMenu(ctx context.Context, req *router.Request, _ string) error {
	return show(ctx, req, textPostMenu, o.postMenu(ctx))
}

func (o *Operator) cbPrompt(ctx context.Context, req *router.Request, payload string) error {
	t := target(payload)
	if !t.valid() {
		return fmt.Errorf("%w: prompt %q", ErrBadPayload, payload)
	}
	o.sessions.await(req.FromID, t)
	return show(ctx, req, prompt(t), backToMenu())
}
