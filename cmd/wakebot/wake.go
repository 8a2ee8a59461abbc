package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Saddammed/Saddam48/internal/app"
	"github.com/Saddammed/Saddam48/internal/wake"
)

func newWakeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "wake",
		Short: "Run one wake check and post if the schedule is due",
		Long: `wake does what an HTTP wake ping does, without a server: it sets up the bot
if needed, then posts the scheduled message when one is due. Useful from
cron or a systemd timer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(f.config)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
				defer cancel()
				_ = a.Stop(ctx)
			}()

			res, err := a.WakeOnce(cmd.Context())
			out := cmd.OutOrStdout()
			switch {
			case errors.As(err, new(*wake.PublishError)):
				fmt.Fprintln(out, color.YellowString("claimed"), "slot", res.Slot.Format(time.RFC3339), "but publishing failed")
				return err
			case err != nil:
				return err
			case res.Posted:
				fmt.Fprintln(out, color.GreenString("posted"), "slot", res.Slot.Format(time.RFC3339))
			default:
				fmt.Fprintln(out, color.CyanString(string(res.Outcome)))
			}
			if !res.NextDue.IsZero() {
				fmt.Fprintln(out, "next due", res.NextDue.Format(time.RFC3339))
			}
			return nil
		},
	}
}
