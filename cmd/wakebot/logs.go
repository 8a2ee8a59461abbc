package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Saddammed/Saddam48/internal/storage"
)

func newLogsCmd(f *rootFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the newest logged messages",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", storage.DefaultRecentLogs, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON like GET /api/bot/logs")

	cmd.RunE = withStore(f, func(ctx context.Context, st storage.Store) error {
		logs, err := st.RecentLogs(ctx, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			if logs == nil {
				logs = []storage.LogEntry{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(logs)
		}
		if len(logs) == 0 {
			fmt.Fprintln(out, "No messages logged.")
			return nil
		}
		in, outb := color.New(color.FgCyan).SprintFunc(), color.New(color.FgGreen).SprintFunc()
		for _, e := range logs {
			dir := in("<- in ")
			if e.Direction == storage.Outbound {
				dir = outb("-> out")
			}
			fmt.Fprintf(out, "%s %s %s\n", e.Timestamp.Local().Format(time.DateTime), dir, e.Message)
		}
		return nil
	})
	return cmd
}
