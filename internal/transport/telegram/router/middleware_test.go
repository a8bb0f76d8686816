package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

func TestRequestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"command", Request{Command: "jobs"}, "/jobs"},
		{"callback", Request{Update: kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{Data: "queue:view:3"}}}, "queue:view"},
		{"media", Request{Update: kit.Update{Kind: kit.UpdateMedia}}, string(kit.UpdateMedia)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.req.route(); got != tt.want {
				t.Fatalf("route() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareChain(t *testing.T) {
	t.Parallel()

	req := &Request{Command: "morning", Logger: logx.Nop()}

	slow := func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := Chain(slow, MWTimeout(10*time.Millisecond))(context.Background(), req)
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "/morning timed out") {
		t.Fatalf("timeout err = %v", err)
	}

	boom := func(context.Context, *Request) error { panic("boom") }
	err = Chain(boom, MWPanicRecover(logx.Nop()), MWRequestLog(logx.Nop()))(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "panic in /morning: boom") {
		t.Fatalf("panic err = %v", err)
	}

	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *Request) error {
				order = append(order, name)
				return next(ctx, r)
			}
		}
	}
	ok := func(context.Context, *Request) error { return nil }
	if err := Chain(ok, mark("a"), mark("b"), MWTimeout(0))(context.Background(), req); err != nil {
		t.Fatalf("chain err = %v", err)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("order = %v, want a,b", order)
	}
}
