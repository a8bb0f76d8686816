package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "bot",
		Short:         "Telegram channel bot that spreads queued posts over the daily window",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newQueueCmd(&cfgPath))
	root.AddCommand(newStateCmd(&cfgPath))
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
