package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRenderChatLine(t *testing.T) {
	t.Parallel()

	got := renderChatLine([]byte(`{"level":"warn","time":"x","message":"publish failed","item":"abc","comp":"posting"}`))
	want := "[WARN] publish failed\n- comp=posting\n- item=abc"
	if got != want {
		t.Fatalf("renderChatLine = %q, want %q", got, want)
	}

	raw := renderChatLine([]byte("  not json \n"))
	if raw != "not json" {
		t.Fatalf("renderChatLine(raw) = %q, want %q", raw, "not json")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"0123456789abcdef", 12, "012345678..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestChatSinkFiltersByLevel(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	sink := newChatSink(func(_ context.Context, chatID int64, _ int, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, text)
		return nil
	})
	sink.configure(ChatConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 100})
	defer sink.close()

	_, _ = sink.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`))
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"loud"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || !strings.Contains(sent[0], "loud") {
		t.Fatalf("sent = %q, want one error line", sent)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("IsZero = false, want true")
	}
	l.Named("x").Info("ignored", String("k", "v"))
}
