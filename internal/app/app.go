// Package app wires the bot together: config, transport, storage, the timer
// loop and the components that run on it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Larkinyegor/telegram-bot-bw/internal/config"
	"github.com/Larkinyegor/telegram-bot-bw/internal/eventbus"
	"github.com/Larkinyegor/telegram-bot-bw/internal/greeting"
	"github.com/Larkinyegor/telegram-bot-bw/internal/integrations/vk"
	"github.com/Larkinyegor/telegram-bot-bw/internal/integrations/weather"
	"github.com/Larkinyegor/telegram-bot-bw/internal/operator"
	"github.com/Larkinyegor/telegram-bot-bw/internal/posting"
	rtsup "github.com/Larkinyegor/telegram-bot-bw/internal/runtime/supervisor"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/engine"
	"github.com/Larkinyegor/telegram-bot-bw/internal/task/scheduler"
	kit "github.com/Larkinyegor/telegram-bot-bw/internal/transport"
	telegram "github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/adapter"
	"github.com/Larkinyegor/telegram-bot-bw/internal/transport/telegram/router"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	timers  *scheduler.Service
	posting *posting.Service
	greet   *greeting.Service
	op      *operator.Operator
	cmdm    *router.Manager

	updates chan kit.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).Named("telegram")
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: set.PollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink mirrors log lines into telegram.log_chat_id.
	logSvc, log := logx.New(logSettings(cfg), func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, nil)
		return err
	})
	log = log.Named("app")

	bus := eventbus.New()

	store, err := storage.Open(ctx, storageSettings(cfg, set), log.Named("storage"))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", orDefault(cfg.Storage.Driver, "sqlite")))

	timers := scheduler.New(log.Named("timers"), scheduler.WithLocation(set.Location))
	calls := engine.New(engineSettings(set), log.Named("engine"), bus)

	ps, err := posting.New(ctx, posting.Deps{
		Log:     log.Named("posting"),
		Timers:  timers,
		Store:   store,
		Out:     ad,
		Bus:     bus,
		Started: timers.Now(),
	}, postingSettings(cfg, set))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	wx := weather.New(cfg.Greeting.WeatherAPIKey)
	greet := greeting.New(log, timers, ad, wx, calls, bus)

	photos := vk.New(cfg.VK.ServiceToken, orDefault(cfg.VK.APIVersion, vk.DefaultVersion))
	op := operator.New(operator.Deps{
		Log:    log,
		Queue:  ps.Scheduler(),
		Items:  store,
		Jobs:   timers,
		Greet:  greet,
		Photos: photos,
		Calls:  calls,
	}, operatorSettings(cfg, set))

	cmdm := router.NewManager(log.Named("commands"), ad, cfg.Telegram.OwnerUserIDs, cfg.Telegram.Workers)

	cfgm.SetLogger(log.Named("config"))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		timers:  timers,
		posting: ps,
		greet:   greet,
		op:      op,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	cfg := a.cfgm.Get()
	set, err := config.Resolve(cfg)
	if err != nil {
		return err
	}

	// Timers may be registered before the loop runs; they fire once it does.
	if err := a.posting.Install(); err != nil {
		return err
	}
	if err := a.greet.Apply(greetingSettings(cfg, set)); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	a.sup.Go("timers", a.timers.Run)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cmdm.SetRegistry(a.sup.Context(), a.op.Commands(), a.op.Callbacks(), a.op.Media())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, time.Minute), rtsup.WithMaxRestarts(5))

	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started",
		logx.Int64("channel_id", cfg.Telegram.ChannelID),
		logx.String("tz", set.Location.String()))
	return nil
}

// reload applies a committed config. Parts that cannot change in place are
// reported and left alone.
func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(prev, next) {
		a.log.Warn("telegram token or storage changed; restart required for changes to take effect")
	}
	if prev.Greeting.WeatherAPIKey != next.Greeting.WeatherAPIKey || prev.VK.ServiceToken != next.VK.ServiceToken ||
		prev.VK.APIVersion != next.VK.APIVersion {
		a.log.Warn("integration credentials changed; restart required for changes to take effect")
	}

	set, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("config not applied", logx.Err(err))
		return
	}

	a.logs.Apply(logSettings(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	a.op.Configure(operatorSettings(next, set))
	a.timers.SetLocation(set.Location)

	if err := a.posting.Apply(ctx, postingSettings(next, set)); err != nil {
		a.log.Error("posting settings not applied", logx.Err(err))
	}
	if err := a.greet.Apply(greetingSettings(next, set)); err != nil {
		a.log.Error("greeting settings not applied", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step runs fn with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	// Loops exit on the canceled context; waiting here keeps storage open
	// until the timer loop has finished its current callback.
	step("supervisor", 3*time.Second, a.sup.Wait)
	if n := a.sup.Active(); n > 0 {
		a.log.Warn("goroutines still running at shutdown", logx.Int64("count", n))
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
