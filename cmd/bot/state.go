package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	"github.com/Larkinyegor/telegram-bot-bw/internal/storage"
)

func newStateCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted scheduler state (offline)",
	}
	cmd.AddCommand(newStateShowCmd(cfgPath))
	cmd.AddCommand(newStateClearSlotCmd(cfgPath))
	return cmd
}

func newStateShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the last publication time, queue size and pending special posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, set, err := openStore(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			out := cmd.OutOrStdout()

			raw, ok, err := st.GetState(ctx, storage.KeyLastPublish)
			if err != nil {
				return err
			}
			switch t, perr := time.Parse(time.RFC3339Nano, raw); {
			case !ok:
				fmt.Fprintln(out, "last publication: never")
			case perr != nil:
				fmt.Fprintf(out, "last publication: unreadable (%q)\n", raw)
			default:
				fmt.Fprintf(out, "last publication: %s (%s)\n", t.In(set.Location).Format("2006-01-02 15:04:05 MST"), humanize.Time(t))
			}

			n, err := st.CountQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "queued posts: %s\n", humanize.Comma(int64(n)))

			for _, slot := range post.Slots {
				it, ok, err := st.GetSpecial(ctx, slot)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(out, "%s: none\n", slot)
					continue
				}
				fmt.Fprintf(out, "%s: %s, saved %s\n", slot, it.Payload.Kind, humanize.Time(it.UpdatedAt))
			}
			return nil
		},
	}
}

func newStateClearSlotCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-slot <opening|closing>",
		Short: "Drop the pending special post of a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := post.ParseSlot(args[0])
			if err != nil {
				return err
			}
			st, _, err := openStore(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := st.DeleteSpecial(cmd.Context(), slot)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cleared: %t\n", slot, removed)
			return nil
		},
	}
}
