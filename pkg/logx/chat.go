package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SendFunc delivers one plain-text log message to a chat.
type SendFunc func(ctx context.Context, chatID int64, threadID int, text string) error

const chatMessageLimit = 3500

type chatLine struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog.LevelWriter that never blocks the caller. Lines above
// the configured level pass through a token bucket into a buffered queue that
// a single worker drains.
type chatSink struct {
	send SendFunc

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue    chan chatLine
	startOne sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newChatSink(send SendFunc) *chatSink {
	return &chatSink{
		send:     send,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan chatLine, 256),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.threadID = cfg.ThreadID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled && c.send != nil {
		c.startOne.Do(c.start)
	}
}

func (c *chatSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-c.queue:
				_ = c.send(ctx, ln.chatID, ln.threadID, ln.text)
			}
		}
	}()
}

func (c *chatSink) close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, threadID, minLevel, lim := c.chatID, c.threadID, c.minLevel, c.limiter
	c.mu.Unlock()

	if chatID == 0 || c.send == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := renderChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{chatID: chatID, threadID: threadID, text: text}:
	default:
	}
	return len(p), nil
}

// renderChatLine turns a zerolog JSON line into "[LEVEL] message" followed by
// one "- key=value" line per field, keys sorted.
func renderChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMessageLimit)
	}

	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), chatMessageLimit)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
