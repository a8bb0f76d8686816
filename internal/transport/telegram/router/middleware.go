package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// slowRequest promotes the request log line from debug to info.
const slowRequest = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// route names what the request hit: the command, or the callback scope and
// action, or "media".
func (r *Request) route() string {
	switch {
	case r.Command != "":
		return "/" + r.Command
	case r.Update.Callback != nil:
		scope, action, _, _ := splitCallback(r.Update.Callback.Data)
		return scope + ":" + action
	default:
		return string(r.Update.Kind)
	}
}

// MWTimeout bounds a handler. d <= 0 leaves ctx alone.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(err, context.DeadlineExceeded) && cctx.Err() != nil {
				return fmt.Errorf("%s timed out after %s: %w", req.route(), d, err)
			}
			return err
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					requestLogger(log, req).Error("handler panic recovered",
						logx.String("route", req.route()),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic in %s: %v", req.route(), r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			logger := requestLogger(log, req)
			fields := []logx.Field{logx.String("route", req.route()), logx.Duration("took", took)}
			switch {
			case err != nil:
				logger.Warn("handler failed", append(fields, logx.Err(err))...)
			case took >= slowRequest:
				logger.Info("handler slow", fields...)
			default:
				logger.Debug("handled", fields...)
			}
			return err
		}
	}
}
