package operator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v4"

	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/tgui"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const (
	textNoJobs       = "Нет запланированных задач."
	textJobsHeader   = "🗓️ Запланированные задачи:\n\n"
	textRateHint     = "Чтобы оценить сообщение, используйте команду /rate в ответ на него."
	textRated        = "Моя оценка: %s"
	textMorningSent  = "Утреннее приветствие отправлено в целевой чат."
	textMorningFail  = "Не удалось отправить утреннее приветствие: %v"
	textPrivateOnly  = "Эта команда доступна только в личных сообщениях с ботом."
	textNoVK         = "Список VK сообществ пуст."
	textPickVK       = "Выберите сообщество для постинга:"
	textBadCommunity = "Ошибка: неверный ID сообщества."
	textVKSearching  = "⏳ Ищу последние %d фото, пожалуйста, подождите..."
	textVKNone       = "Не удалось найти фотографии в последних постах этого сообщества."
	textVKSendFail   = "Произошла ошибка при отправке: %v"
	textVKDone       = "✅ Вот последние %d фото."
)

var ratings = []struct {
	label  string
	weight int
}{
	{"Говняк", 24},
	{"Сомнительно", 24},
	{"Норм", 24},
	{"Секс", 24},
	{"Слон сука!", 4},
}

// rate picks a rating with probability proportional to its weight.
func (o *Operator) rate() string {
	total := 0
	for _, r := range ratings {
		total += r.weight
	}
	n := o.intn(total)
	for _, r := range ratings {
		if n < r.weight {
			return r.label
		}
		n -= r.weight
	}
	return ratings[len(ratings)-1].label
}

func (o *Operator) cmdRate(ctx context.Context, req *router.Request) error {
	msg := req.Message()
	if msg == nil || msg.ReplyTo == 0 {
		_, err := req.Reply(ctx, textRateHint, nil)
		return err
	}
	_, err := req.Reply(ctx, fmt.Sprintf(textRated, o.rate()), &transport.SendOptions{ReplyTo: msg.ID})
	return err
}

var relMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "%s %d сек", DivBy: time.Second},
	{D: time.Hour, Format: "%s %d мин", DivBy: time.Minute},
	{D: 48 * time.Hour, Format: "%s %d ч", DivBy: time.Hour},
	{D: math.MaxInt64, Format: "%s %d дн", DivBy: 24 * time.Hour},
}

func jobsText(entries []scheduler.Entry, now time.Time) string {
	if len(entries) == 0 {
		return textNoJobs
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Next, entries[j].Next
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})
	var sb strings.Builder
	sb.WriteString(textJobsHeader)
	for _, e := range entries {
		next := "N/A"
		if !e.Next.IsZero() {
			next = e.Next.Format("2006-01-02 15:04:05 MST") + " (" + humanize.CustomRelTime(now, e.Next, "через", "назад", relMagnitudes) + ")"
		}
		status := "Активна"
		if !e.Enabled {
			status = "Приостановлена"
		}
		fmt.Fprintf(&sb, "🔹 %s\n   %s\n   %s\n\n",
			tgui.Field("Название:", tgui.Code(e.Key.String())),
			tgui.Field("Следующий запуск:", tgui.Esc(next)),
			tgui.Field("Статус:", tgui.Esc(status)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o *Operator) cmdJobs(ctx context.Context, req *router.Request) error {
	var entries []scheduler.Entry
	var now time.Time
	if o.jobs != nil {
		entries = o.jobs.Entries()
		now = o.jobs.Now()
	}
	_, err := req.Reply(ctx, jobsText(entries, now), &transport.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func (o *Operator) cmdMorning(ctx context.Context, req *router.Request) error {
	if o.greet == nil {
		return nil
	}
	if err := o.greet.Send(ctx); err != nil {
		req.Logger.Error("manual greeting failed", logx.Err(err))
		_, _ = req.Reply(ctx, fmt.Sprintf(textMorningFail, err), nil)
		return err
	}
	_, err := req.Reply(ctx, textMorningSent, nil)
	return err
}

func (o *Operator) cmdVK(ctx context.Context, req *router.Request) error {
	if !req.Private() {
		_, err := req.Reply(ctx, textPrivateOnly, nil)
		return err
	}
	set := o.settings()
	if len(set.Communities) == 0 {
		_, err := req.Reply(ctx, textNoVK, nil)
		return err
	}
	kb := tgui.NewInline()
	for _, c := range set.Communities {
		kb.Row(tgui.Btn(c.Name, tgui.Data(scopeVK, actPick, strconv.FormatInt(c.ID, 10))))
	}
	_, err := req.Reply(ctx, textPickVK, &transport.SendOptions{Markup: kb.Markup()})
	return err
}

func (o *Operator) cbVKPick(ctx context.Context, req *router.Request, payload string) error {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		_ = show(ctx, req, textBadCommunity, nil)
		return fmt.Errorf("%w: community %q", ErrBadPayload, payload)
	}
	count := o.settings().PhotoCount
	_ = show(ctx, req, fmt.Sprintf(textVKSearching, count), nil)

	var urls []string
	fetch := func(ctx context.Context) (err error) {
		urls, err = o.photos.LatestPhotos(ctx, id, count)
		return err
	}
	switch {
	case o.photos == nil:
	case o.calls != nil:
		err = o.calls.Do(ctx, "vk", fetch)
	default:
		err = fetch(ctx)
	}
	if err != nil {
		req.Logger.Warn("vk photos unavailable", logx.Int64("community", id), logx.Err(err))
	}
	if len(urls) == 0 {
		return show(ctx, req, textVKNone, nil)
	}

	if err := req.Adapter.SendAlbum(ctx, req.Chat, urls); err != nil {
		_ = show(ctx, req, fmt.Sprintf(textVKSendFail, err), nil)
		return err
	}
	if ref, ok := messageRef(req); ok {
		_ = req.Adapter.DeleteMessage(ctx, ref)
	}
	_, err = req.Reply(ctx, fmt.Sprintf(textVKDone, len(urls)), nil)
	return err
}
