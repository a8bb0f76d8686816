package operator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

const owner = int64(100)

type sent struct {
	text   string
	media  *transport.Media
	markup *tele.ReplyMarkup
	opt    *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []sent
	albums  [][]string
	deleted []transport.MessageRef
	answers []string
	editErr error
}

func markupOf(opt *transport.SendOptions) *tele.ReplyMarkup {
	if opt == nil {
		return nil
	}
	rm, _ := opt.Markup.(*tele.ReplyMarkup)
	return rm
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{text: text, markup: markupOf(opt), opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sent{text: text, markup: markupOf(opt), opt: opt})
	return nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, to transport.ChatTarget, m transport.Media, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{media: &m, markup: markupOf(opt), opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendAlbum(_ context.Context, _ transport.ChatTarget, urls []string) error {
	f.mu.Lock()
	f.albums = append(f.albums, urls)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) lastSent(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) lastEdit(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		t.Fatalf("nothing edited")
	}
	return f.edits[len(f.edits)-1]
}

// storeQueue is QueueControl over a store without a timer loop.
type storeQueue struct {
	st      storage.Store
	removed []string
}

func (q *storeQueue) Enqueue(ctx context.Context, p post.Payload) (post.QueuedItem, int, error) {
	item := post.NewQueued(p, time.Now())
	if _, err := q.st.Enqueue(ctx, item); err != nil {
		return post.QueuedItem{}, 0, err
	}
	n, err := q.st.CountQueue(ctx)
	return item, n, err
}

func (q *storeQueue) Remove(ctx context.Context, id string) (bool, error) {
	q.removed = append(q.removed, id)
	return q.st.DeleteQueued(ctx, id)
}

type fakeJobs struct {
	now     time.Time
	entries []scheduler.Entry
}

func (f fakeJobs) Entries() []scheduler.Entry { return f.entries }
func (f fakeJobs) Now() time.Time             { return f.now }

type fakeGreeter struct{ err error }

func (f fakeGreeter) Send(context.Context) error { return f.err }

type fakePhotos struct{ urls []string }

func (f fakePhotos) LatestPhotos(_ context.Context, _ int64, count int) ([]string, error) {
	if len(f.urls) > count {
		return f.urls[:count], nil
	}
	return f.urls, nil
}

type harness struct {
	op    *Operator
	ad    *fakeAdapter
	st    storage.Store
	queue *storeQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	q := &storeQueue{st: st}
	op := New(Deps{
		Log:    logx.Nop(),
		Queue:  q,
		Items:  st,
		Jobs:   fakeJobs{now: time.Now()},
		Greet:  fakeGreeter{},
		Photos: fakePhotos{urls: []string{"u1", "u2"}},
	}, Settings{
		Opening:     Slot{At: daytime.MustParse("10:00"), Signature: "Доброе утро!", Label: "Доброе утро!"},
		Closing:     Slot{At: daytime.MustParse("23:00"), Signature: "Спокойной ночи!", Label: "Спокойной ночи!"},
		Communities: []Community{{Name: "Мемы", ID: -42}},
	})
	return &harness{op: op, ad: &fakeAdapter{}, st: st, queue: q}
}

func (h *harness) message(text string, private bool) *router.Request {
	msg := &transport.Message{ID: 9, ChatID: owner, FromID: owner, Text: text, IsPrivate: private}
	if !private {
		msg.ChatID = -500
	}
	return &router.Request{
		Update:  transport.Update{Kind: transport.UpdateMessage, Message: msg},
		Chat:    transport.ChatTarget{ChatID: msg.ChatID},
		FromID:  owner,
		Adapter: h.ad,
		Logger:  logx.Nop(),
	}
}

func (h *harness) media(m *transport.Media) *router.Request {
	req := h.message("", true)
	req.Update.Kind = transport.UpdateMedia
	req.Update.Message.Media = m
	return req
}

func (h *harness) callback(data string) *router.Request {
	return &router.Request{
		Update: transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
			ID: "cb", FromID: owner, ChatID: owner, MessageID: 77, Data: data,
		}},
		Chat:    transport.ChatTarget{ChatID: owner},
		FromID:  owner,
		Adapter: h.ad,
		Logger:  logx.Nop(),
	}
}

func buttons(rm *tele.ReplyMarkup) [][]string {
	if rm == nil {
		return nil
	}
	var out [][]string
	for _, row := range rm.InlineKeyboard {
		var r []string
		for _, b := range row {
			r = append(r, b.Text)
		}
		out = append(out, r)
	}
	return out
}

func TestStartRepliesOnlyInPrivate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.op.cmdStart(ctx, h.message("/start", false)); err != nil {
		t.Fatalf("cmdStart(group) err = %v", err)
	}
	if got := h.ad.lastSent(t).text; got != textGroupOnly {
		t.Fatalf("group reply = %q, want %q", got, textGroupOnly)
	}

	if err := h.op.cmdStart(ctx, h.message("/start", true)); err != nil {
		t.Fatalf("cmdStart(private) err = %v", err)
	}
	last := h.ad.lastSent(t)
	if last.text != textMainMenu || buttons(last.markup)[0][0] != btnPosting {
		t.Fatalf("private reply = %q %v", last.text, buttons(last.markup))
	}
}

func TestSpecialSubmission(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.op.cbPrompt(ctx, h.callback("menu:prompt:closing"), "closing"); err != nil {
		t.Fatalf("cbPrompt err = %v", err)
	}
	if got := h.ad.lastEdit(t).text; !strings.Contains(got, "вечернего поста") {
		t.Fatalf("prompt = %q", got)
	}

	m := &transport.Media{Kind: post.KindImage, FileID: "F1", Caption: "подпись"}
	if err := h.op.handleMedia(ctx, h.media(m)); err != nil {
		t.Fatalf("handleMedia err = %v", err)
	}
	if got, want := h.ad.lastSent(t).text, "Вечерний пост на 23:00 сохранен! 💛"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
	sp, ok, err := h.st.GetSpecial(ctx, post.SlotClosing)
	if err != nil || !ok {
		t.Fatalf("GetSpecial = %v, %v", ok, err)
	}
	if sp.Payload.Caption != "подпись\n\nСпокойной ночи!" || sp.Payload.FileID != "F1" {
		t.Fatalf("saved payload = %+v", sp.Payload)
	}
	if _, pending := h.op.sessions.peek(owner); pending {
		t.Fatalf("session not cleared after submission")
	}

	if err := h.op.cbPostMenu(ctx, h.callback("menu:post"), ""); err != nil {
		t.Fatalf("cbPostMenu err = %v", err)
	}
	rows := buttons(h.ad.lastEdit(t).markup)
	if rows[0][0] != "Доброе утро!" || rows[1][0] != "Спокойной ночи!"+pendingMark {
		t.Fatalf("post menu = %v", rows)
	}
}

func TestQueueSubmission(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// No pending choice: ignored.
	if err := h.op.handleMedia(ctx, h.media(&transport.Media{Kind: post.KindImage, FileID: "X"})); err != nil {
		t.Fatalf("handleMedia err = %v", err)
	}
	if n, _ := h.st.CountQueue(ctx); n != 0 || len(h.ad.sent) != 0 {
		t.Fatalf("media without session handled: queued=%d sent=%d", n, len(h.ad.sent))
	}

	_ = h.op.cbPrompt(ctx, h.callback("menu:prompt:queue"), "queue")

	// Unsupported media keeps the session.
	if err := h.op.handleMedia(ctx, h.media(nil)); err != nil {
		t.Fatalf("handleMedia(nil) err = %v", err)
	}
	if got := h.ad.lastSent(t).text; got != textAskMedia {
		t.Fatalf("reply = %q, want %q", got, textAskMedia)
	}
	if _, pending := h.op.sessions.peek(owner); !pending {
		t.Fatalf("session dropped on unsupported media")
	}

	if err := h.op.handleMedia(ctx, h.media(&transport.Media{Kind: post.KindClip, FileID: "V"})); err != nil {
		t.Fatalf("handleMedia err = %v", err)
	}
	if got, want := h.ad.lastSent(t).text, "Мем добавлен в очередь. Всего в очереди: 1."; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestQueueViewer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.op.cbView(ctx, h.callback("queue:view:0"), "0"); err != nil {
		t.Fatalf("cbView(empty) err = %v", err)
	}
	if got := h.ad.lastSent(t).text; got != textQueueEmpty {
		t.Fatalf("empty viewer = %q", got)
	}

	var ids []string
	for i, c := range []string{"", "second", ""} {
		item, _, err := h.queue.Enqueue(ctx, post.Payload{Kind: post.KindImage, FileID: string(rune('a' + i)), Caption: c})
		if err != nil {
			t.Fatalf("Enqueue err = %v", err)
		}
		ids = append(ids, item.ID)
	}

	tests := []struct {
		index       int
		wantCaption string
		wantNav     []string
	}{
		{index: 0, wantCaption: "Пост 1 из 3", wantNav: []string{btnDelete, btnNext}},
		{index: 1, wantCaption: "Пост 2 из 3\n\n---\nsecond", wantNav: []string{btnPrev, btnDelete, btnNext}},
		{index: 9, wantCaption: "Пост 3 из 3", wantNav: []string{btnPrev, btnDelete}},
	}
	for _, tt := range tests {
		if err := h.op.showItem(ctx, h.callback("queue:view"), tt.index); err != nil {
			t.Fatalf("showItem(%d) err = %v", tt.index, err)
		}
		last := h.ad.lastSent(t)
		if last.media == nil || last.media.Caption != tt.wantCaption {
			t.Fatalf("showItem(%d) caption = %+v, want %q", tt.index, last.media, tt.wantCaption)
		}
		rows := buttons(last.markup)
		if strings.Join(rows[0], "|") != strings.Join(tt.wantNav, "|") || rows[1][0] != btnBackMenu {
			t.Fatalf("showItem(%d) buttons = %v", tt.index, rows)
		}
	}

	if err := h.op.cbDelete(ctx, h.callback("queue:del"), ids[2]+":2"); err != nil {
		t.Fatalf("cbDelete err = %v", err)
	}
	if len(h.queue.removed) != 1 || h.queue.removed[0] != ids[2] {
		t.Fatalf("removed = %v", h.queue.removed)
	}
	if got := h.ad.lastSent(t).media.Caption; got != "Пост 2 из 2\n\n---\nsecond" {
		t.Fatalf("after delete caption = %q", got)
	}

	err := h.op.cbDelete(ctx, h.callback("queue:del"), "garbage")
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("cbDelete(bad) err = %v, want %v", err, ErrBadPayload)
	}
	if h.ad.answers[len(h.ad.answers)-1] != textDeleteError {
		t.Fatalf("answers = %v", h.ad.answers)
	}
}

func TestShowFallsBackToSendWhenEditFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ad.editErr = errors.New("there is no text in the message to edit")
	if err := h.op.cbStart(context.Background(), h.callback("menu:start"), ""); err != nil {
		t.Fatalf("cbStart err = %v", err)
	}
	if len(h.ad.deleted) != 1 || h.ad.deleted[0].MessageID != 77 {
		t.Fatalf("deleted = %v", h.ad.deleted)
	}
	if got := h.ad.lastSent(t).text; got != textMainMenu {
		t.Fatalf("sent = %q", got)
	}
}

func TestParseDelete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantID  string
		wantIdx int
		wantErr bool
	}{
		{in: "0f8c2e1a-1111-2222-3333-444455556666:3", wantID: "0f8c2e1a-1111-2222-3333-444455556666", wantIdx: 3},
		{in: "a:b:1", wantID: "a:b", wantIdx: 1},
		{in: ":1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "abc:x", wantErr: true},
	}
	for _, tt := range tests {
		id, i, err := parseDelete(tt.in)
		if (err != nil) != tt.wantErr || id != tt.wantID || i != tt.wantIdx {
			t.Fatalf("parseDelete(%q) = %q, %d, %v", tt.in, id, i, err)
		}
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.op.cmdRate(ctx, h.message("/rate", false)); err != nil {
		t.Fatalf("cmdRate err = %v", err)
	}
	if got := h.ad.lastSent(t).text; got != textRateHint {
		t.Fatalf("reply = %q, want hint", got)
	}

	tests := map[int]string{0: "Говняк", 47: "Сомнительно", 95: "Секс", 96: "Слон сука!", 99: "Слон сука!"}
	for n, want := range tests {
		n := n
		h.op.intn = func(int) int { return n }
		req := h.message("/rate", false)
		req.Update.Message.ReplyTo = 5
		if err := h.op.cmdRate(ctx, req); err != nil {
			t.Fatalf("cmdRate err = %v", err)
		}
		last := h.ad.lastSent(t)
		if last.text != "Моя оценка: "+want || last.opt.ReplyTo != 9 {
			t.Fatalf("intn=%d reply = %q (reply_to %d), want %q", n, last.text, last.opt.ReplyTo, want)
		}
	}
}

func TestJobsText(t *testing.T) {
	t.Parallel()

	if got := jobsText(nil, time.Time{}); got != textNoJobs {
		t.Fatalf("jobsText(nil) = %q", got)
	}
	loc := time.FixedZone("MSK", 3*3600)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, loc)
	got := jobsText([]scheduler.Entry{
		{Key: scheduler.Key{Kind: scheduler.KindDailyBoundary}, Next: now.Add(14*time.Hour + time.Minute), Enabled: true},
		{Key: scheduler.Key{Kind: scheduler.KindQueue, ID: "abc"}, Next: now.Add(2 * time.Hour), Enabled: true},
		{Key: scheduler.Key{Kind: scheduler.KindAnnouncer}, Enabled: false},
	}, now)

	for _, want := range []string{
		textJobsHeader,
		"<code>queue:abc</code>",
		"2024-05-01 12:00:00 MSK (через 2 ч)",
		"Приостановлена",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("jobsText missing %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "queue:abc") > strings.Index(got, "daily-boundary") {
		t.Fatalf("jobs not ordered by next run:\n%s", got)
	}
}

func TestMorning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.op.cmdMorning(context.Background(), h.message("/morning", true)); err != nil {
		t.Fatalf("cmdMorning err = %v", err)
	}
	if got := h.ad.lastSent(t).text; got != textMorningSent {
		t.Fatalf("reply = %q", got)
	}

	h.op.greet = fakeGreeter{err: errors.New("chat not found")}
	if err := h.op.cmdMorning(context.Background(), h.message("/morning", true)); err == nil {
		t.Fatalf("cmdMorning err = nil, want failure")
	}
	if got := h.ad.lastSent(t).text; !strings.HasPrefix(got, "Не удалось отправить") {
		t.Fatalf("reply = %q", got)
	}
}

func TestVK(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_ = h.op.cmdVK(ctx, h.message("/vk", false))
	if got := h.ad.lastSent(t).text; got != textPrivateOnly {
		t.Fatalf("group reply = %q", got)
	}

	_ = h.op.cmdVK(ctx, h.message("/vk", true))
	last := h.ad.lastSent(t)
	if last.text != textPickVK || last.markup.InlineKeyboard[0][0].Data != "vk:pick:-42" {
		t.Fatalf("community menu = %q %+v", last.text, last.markup)
	}

	if err := h.op.cbVKPick(ctx, h.callback("vk:pick:-42"), "-42"); err != nil {
		t.Fatalf("cbVKPick err = %v", err)
	}
	if len(h.ad.albums) != 1 || len(h.ad.albums[0]) != 2 {
		t.Fatalf("albums = %v", h.ad.albums)
	}
	if got := h.ad.lastSent(t).text; got != "✅ Вот последние 2 фото." {
		t.Fatalf("done reply = %q", got)
	}

	h.op.photos = fakePhotos{}
	if err := h.op.cbVKPick(ctx, h.callback("vk:pick:-42"), "-42"); err != nil {
		t.Fatalf("cbVKPick(empty) err = %v", err)
	}
	if got := h.ad.lastEdit(t).text; got != textVKNone {
		t.Fatalf("empty reply = %q", got)
	}

	h.op.Configure(Settings{})
	_ = h.op.cmdVK(ctx, h.message("/vk", true))
	if got := h.ad.lastSent(t).text; got != textNoVK {
		t.Fatalf("no communities reply = %q", got)
	}
}

func TestViewerMarkupDeleteButton(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want []string
	}{
		{"uuid id", "0f8fad5b-d9cb-469f-a165-70867728950e", []string{btnPrev, btnDelete, btnNext}},
		{"id over callback limit", strings.Repeat("x", 60), []string{btnPrev, btnNext}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows := buttons(viewerMarkup(1, 3, post.QueuedItem{ID: tt.id}))
			if len(rows) != 2 || strings.Join(rows[0], "|") != strings.Join(tt.want, "|") {
				t.Fatalf("buttons = %v, want first row %v", rows, tt.want)
			}
		})
	}
}
