// Package engine runs calls to flaky upstream services (weather, VK) with a
// per-call timeout, retries with jittered exponential backoff, a shared rate
// limit and a per-key circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type Config struct {
	// DefaultTimeout bounds a single attempt. 0 means no extra bound.
	DefaultTimeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// RatePerSecond limits attempts across all keys. 0 disables limiting.
	RatePerSecond float64
	RateBurst     int

	// CircuitTripFailures < 0 disables the breaker; 0 applies the default.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// CallEvent is published on the bus when a call finally fails.
type CallEvent struct {
	Key      string        `json:"key"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

const CallFailed = "engine.call_failed"

type Runner struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter
	circ    *breaker

	// sleep waits d or until ctx ends. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Runner{
		cfg:   cfg,
		log:   log.Named("engine"),
		bus:   bus,
		circ:  newBreaker(cfg),
		sleep: sleepCtx,
		now:   time.Now,
	}
	if cfg.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}
	return r
}

// Do runs fn until it succeeds, returns a NoRetry error or the retry budget
// is spent. key groups calls for the circuit breaker and logs.
func (r *Runner) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if open, until := r.circ.open(r.now(), key); open {
		r.log.Debug("call skipped, circuit open", logx.String("key", key), logx.Time("until", until))
		return fmt.Errorf("%s: %w", key, ErrCircuitOpen)
	}

	start := r.now()
	var err error
	attempts := 0
	for attempt := 1; attempt <= 1+r.cfg.RetryMax; attempt++ {
		attempts = attempt
		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				err = werr
				break
			}
		}
		err = r.attempt(ctx, key, fn)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if ctx.Err() != nil || attempt > r.cfg.RetryMax {
			break
		}
		delay := r.backoff(attempt, err)
		r.log.Debug("call retry scheduled", logx.String("key", key), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		if serr := r.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
	}

	r.circ.record(r.now(), key, err)
	if err != nil {
		dur := r.now().Sub(start)
		r.log.Warn("call failed", logx.String("key", key), logx.Int("attempts", attempts), logx.Duration("dur", dur), logx.Err(err))
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: CallFailed, Data: CallEvent{Key: key, Attempts: attempts, Duration: dur, Error: err.Error()}})
		}
	}
	return err
}

func (r *Runner) attempt(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	if r.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DefaultTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = NoRetry(fmt.Errorf("panic: %v", p))
			r.log.Error("call panic", logx.String("key", key), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

// backoff returns the delay before retry number n+1. Retry-After hints win
// over the exponential schedule; jitter applies to both.
func (r *Runner) backoff(n int, err error) time.Duration {
	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = r.cfg.RetryBase
		for i := 1; i < n && d < r.cfg.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	j := (rand.Float64()*2 - 1) * r.cfg.RetryJitter
	d = time.Duration(float64(d) * (1 + j))
	return max(0, min(d, r.cfg.RetryMaxDelay))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
