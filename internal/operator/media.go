package operator

import (
	"context"
	"fmt"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	textOpeningSaved = "Утренний пост на %s сохранен! 💛"
	textClosingSaved = "Вечерний пост на %s сохранен! 💛"
	textQueued       = "Мем добавлен в очередь. Всего в очереди: %d."
)

// handleMedia files an owner's media according to the menu choice made
// before it. Media sent without a pending choice is ignored.
func (o *Operator) handleMedia(ctx context.Context, req *router.Request) error {
	t, ok := o.sessions.peek(req.FromID)
	if !ok {
		req.Logger.Debug("media without pending target ignored")
		return nil
	}
	msg := req.Message()
	if msg == nil || msg.Media == nil {
		_, err := req.Reply(ctx, textAskMedia, nil)
		return err
	}
	p := post.Payload{Kind: msg.Media.Kind, FileID: msg.Media.FileID, Caption: msg.Media.Caption}
	if err := p.Validate(); err != nil {
		_, _ = req.Reply(ctx, textAskMedia, nil)
		return err
	}

	var reply string
	switch t {
	case targetOpening, targetClosing:
		slot := post.SlotOpening
		format := textOpeningSaved
		if t == targetClosing {
			slot, format = post.SlotClosing, textClosingSaved
		}
		s := o.slot(slot)
		p.Caption = post.Sign(p.Caption, s.Signature)
		if err := o.items.PutSpecial(ctx, post.SpecialItem{Slot: slot, Payload: p, UpdatedAt: o.now()}); err != nil {
			return fmt.Errorf("save %s post: %w", slot, err)
		}
		req.Logger.Info("special post saved", logx.String("slot", string(slot)))
		reply = fmt.Sprintf(format, s.At)
	case targetQueue:
		item, n, err := o.queue.Enqueue(ctx, p)
		if err != nil {
			return err
		}
		req.Logger.Info("post queued", logx.String("item", item.ID), logx.Int("queued", n))
		reply = fmt.Sprintf(textQueued, n)
	}
	o.sessions.take(req.FromID)

	_, err := req.Reply(ctx, reply, &transport.SendOptions{Markup: backToMenu()})
	return err
}
