package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func startLoop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(time.Second)
	for !s.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestOnceTimersFireInTimeOrder(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	rec := &recorder{}
	now := time.Now()
	for _, tc := range []struct {
		id    string
		delay time.Duration
	}{{"c", 60 * time.Millisecond}, {"a", 20 * time.Millisecond}, {"b", 40 * time.Millisecond}} {
		id := tc.id
		if err := s.ScheduleOnce(Key{Kind: KindQueue, ID: id}, now.Add(tc.delay), func(context.Context) { rec.add(id) }); err != nil {
			t.Fatalf("ScheduleOnce: %v", err)
		}
	}
	startLoop(t, s)

	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
	got := rec.snapshot()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", got)
	}
	if n := s.Count(KindQueue); n != 0 {
		t.Fatalf("Count after firing = %d, want 0", n)
	}
}

func TestCancelKindKeepsOtherKinds(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	far := time.Now().Add(time.Hour)
	noop := func(context.Context) {}
	_ = s.ScheduleOnce(Key{Kind: KindQueue, ID: "1"}, far, noop)
	_ = s.ScheduleOnce(Key{Kind: KindQueue, ID: "2"}, far, noop)
	_ = s.ScheduleOnce(Key{Kind: KindAnnouncer}, far, noop)
	_ = s.ScheduleDaily(Key{Kind: KindSpecialOpening}, daytime.MustParse("10:00"), noop)

	if n := s.CancelKind(KindQueue); n != 2 {
		t.Fatalf("CancelKind = %d, want 2", n)
	}
	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want announcer and opening", entries)
	}
	for _, e := range entries {
		if e.Key.Kind == KindQueue {
			t.Fatalf("queue timer survived: %+v", e)
		}
	}
}

func TestScheduleOnceReplacesSameKey(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	key := Key{Kind: KindQueue, ID: "x"}
	first := time.Now().Add(time.Hour)
	second := first.Add(time.Hour)
	_ = s.ScheduleOnce(key, first, func(context.Context) {})
	_ = s.ScheduleOnce(key, second, func(context.Context) {})

	entries := s.Entries()
	if len(entries) != 1 || !entries[0].Next.Equal(second) {
		t.Fatalf("entries = %+v, want single entry at %v", entries, second)
	}
	if !s.Cancel(key) || s.Cancel(key) {
		t.Fatalf("Cancel did not report existence correctly")
	}
}

func TestDailyNextInLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*3600)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, loc)
	s := New(logx.Nop(), WithLocation(loc), WithClock(func() time.Time { return fixed }))

	_ = s.ScheduleDaily(Key{Kind: KindSpecialOpening}, daytime.MustParse("10:00"), func(context.Context) {})
	_ = s.ScheduleDaily(Key{Kind: KindDailyBoundary}, daytime.MustParse("00:01"), func(context.Context) {})

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, loc); !entries[0].Next.Equal(want) {
		t.Fatalf("opening next = %v, want %v", entries[0].Next, want)
	}
	if want := time.Date(2024, 5, 2, 0, 1, 0, 0, loc); !entries[1].Next.Equal(want) {
		t.Fatalf("boundary next = %v, want %v", entries[1].Next, want)
	}
	if entries[0].Trigger != "daily 10:00" {
		t.Fatalf("trigger = %q", entries[0].Trigger)
	}
}

func TestDoRunsOnLoopAndPostFromCallback(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	ctx := context.Background()
	if err := s.Do(ctx, func(context.Context) {}); err != ErrNotRunning {
		t.Fatalf("Do before Run = %v, want ErrNotRunning", err)
	}
	startLoop(t, s)

	rec := &recorder{}
	err := s.Do(ctx, func(context.Context) {
		rec.add("do")
		s.Post(func(context.Context) { rec.add("post") })
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	if got := rec.snapshot(); got[0] != "do" || got[1] != "post" {
		t.Fatalf("got %v", got)
	}
}

func TestCallbackPanicDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	startLoop(t, s)
	rec := &recorder{}
	now := time.Now()
	_ = s.ScheduleOnce(Key{Kind: KindStartup}, now, func(context.Context) { panic("boom") })
	_ = s.ScheduleOnce(Key{Kind: KindQueue, ID: "after"}, now.Add(10*time.Millisecond), func(context.Context) { rec.add("after") })
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	if err := s.ScheduleOnce(Key{}, time.Now(), func(context.Context) {}); err != ErrBadKey {
		t.Fatalf("ScheduleOnce(empty key) = %v, want ErrBadKey", err)
	}
	if err := s.ScheduleEvery(Key{Kind: KindSafetyNet}, time.Millisecond, func(context.Context) {}); err == nil {
		t.Fatalf("ScheduleEvery(1ms) accepted")
	}
}
