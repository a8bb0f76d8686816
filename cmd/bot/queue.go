package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Larkinyegor/telegram-bot-bw/pkg/tgui"
)

func newQueueCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or edit the regular queue (offline)",
	}
	cmd.AddCommand(newQueueListCmd(cfgPath))
	cmd.AddCommand(newQueueRemoveCmd(cfgPath))
	return cmd
}

func newQueueListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued posts in publication order",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.ListQueue(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tKIND\tQUEUED\tCAPTION")
			for i, it := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, it.ID, it.Payload.Kind,
					humanize.Time(it.EnqueuedAt), tgui.TruncRunes(it.Payload.Caption, 40))
			}
			return tw.Flush()
		},
	}
}

func newQueueRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a queued post (stop the bot first; timers already booked are not touched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := st.DeleteQueued(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no queued post with id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
