package operator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/tgui"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	textQueueEmpty  = "Очередь обычных постов пуста."
	textBadIndex    = "Ошибка: неверный индекс."
	textDeleteError = "Ошибка при удалении."

	btnPrev   = "⬅️ Назад"
	btnDelete = "❌ Удалить"
	btnNext   = "➡️ Вперед"
)

func viewerCaption(i, n int, item post.QueuedItem) string {
	c := fmt.Sprintf("Пост %d из %d", i+1, n)
	if item.Payload.Caption != "" {
		c += "\n\n---\n" + item.Payload.Caption
	}
	return tgui.TruncRunes(c, tgui.CaptionLimit)
}

func viewerMarkup(i, n int, item post.QueuedItem) *tele.ReplyMarkup {
	var nav []tele.Btn
	if i > 0 {
		nav = append(nav, tgui.Btn(btnPrev, tgui.Data(scopeQueue, actView, strconv.Itoa(i-1))))
	}
	// Ids too long for callback data get no delete button.
	if data, err := tgui.CheckedData(scopeQueue, actDelete, item.ID+":"+strconv.Itoa(i)); err == nil {
		nav = append(nav, tgui.Btn(btnDelete, data))
	}
	if i < n-1 {
		nav = append(nav, tgui.Btn(btnNext, tgui.Data(scopeQueue, actView, strconv.Itoa(i+1))))
	}
	return tgui.NewInline().
		Row(nav...).
		Row(tgui.Btn(btnBackMenu, tgui.Data(scopeMenu, actPost, ""))).
		Markup()
}

// showItem replaces the callback's message with the queue item at index,
// clamped to the queue bounds.
func (o *Operator) showItem(ctx context.Context, req *router.Request, index int) error {
	items, err := o.items.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	ref, hasRef := messageRef(req)
	if len(items) == 0 {
		if hasRef {
			_ = req.Adapter.DeleteMessage(ctx, ref)
		}
		_, err := req.Reply(ctx, textQueueEmpty, &transport.SendOptions{Markup: backToMenu()})
		return err
	}

	i := tgui.Clamp(index, len(items))
	item := items[i]
	m := transport.MediaFromPayload(item.Payload)
	m.Caption = viewerCaption(i, len(items), item)

	if hasRef {
		if err := req.Adapter.DeleteMessage(ctx, ref); err != nil {
			req.Logger.Debug("viewer message not deleted", logx.Err(err))
		}
	}
	_, err = req.Adapter.SendMedia(ctx, req.Chat, m, &transport.SendOptions{Markup: viewerMarkup(i, len(items), item)})
	return err
}

func (o *Operator) cbView(ctx context.Context, req *router.Request, payload string) error {
	i, err := strconv.Atoi(payload)
	if err != nil {
		_ = show(ctx, req, textBadIndex, backToMenu())
		return fmt.Errorf("%w: index %q", ErrBadPayload, payload)
	}
	return o.showItem(ctx, req, i)
}

// parseDelete splits "<item id>:<index>".
func parseDelete(payload string) (string, int, error) {
	cut := strings.LastIndexByte(payload, ':')
	if cut <= 0 {
		return "", 0, fmt.Errorf("%w: delete %q", ErrBadPayload, payload)
	}
	i, err := strconv.Atoi(payload[cut+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: delete %q", ErrBadPayload, payload)
	}
	return payload[:cut], i, nil
}

func (o *Operator) cbDelete(ctx context.Context, req *router.Request, payload string) error {
	id, i, err := parseDelete(payload)
	if err != nil {
		if cb := req.Callback(); cb != nil {
			_ = req.Adapter.AnswerCallback(ctx, cb.ID, textDeleteError, true)
		}
		return err
	}
	removed, err := o.queue.Remove(ctx, id)
	if err != nil {
		if cb := req.Callback(); cb != nil {
			_ = req.Adapter.AnswerCallback(ctx, cb.ID, textDeleteError, true)
		}
		return err
	}
	req.Logger.Info("queued post removed", logx.String("item", id), logx.Bool("removed", removed))
	return o.showItem(ctx, req, i)
}
