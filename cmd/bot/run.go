package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Larkinyegor/telegram-bot-bw/internal/app"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration
	c := &cobra.Command{
		Use:   "run",
		Short: "Start the bot and block until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}

			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			_ = a.Stop(sctx, reason)
			return a.Err()
		},
	}
	c.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return c
}
