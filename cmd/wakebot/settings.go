package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Saddammed/Saddam48/internal/storage"
)

func newSettingsCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit persisted settings",
	}
	cmd.AddCommand(
		newSettingsListCmd(f),
		newSettingsGetCmd(f),
		newSettingsSetCmd(f),
		newSettingsIntervalCmd(f),
	)
	return cmd
}

func newSettingsListCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every setting",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withStore(f, func(ctx context.Context, st storage.Store) error {
		rows, err := st.ListSettings(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintln(out, "No settings stored.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVALUE\tUPDATED")
		for _, s := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Key, s.Value, s.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
	return cmd
}

func newSettingsGetCmd(f *rootFlags) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting value",
		Args:  cobra.ExactArgs(1),
		PreRun: func(_ *cobra.Command, args []string) {
			key = args[0]
		},
	}
	cmd.RunE = withStore(f, func(ctx context.Context, st storage.Store) error {
		v, ok, err := st.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %q not found", key)
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	})
	return cmd
}

func newSettingsSetCmd(f *rootFlags) *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a setting",
		Long: `set writes a raw setting value. lastPostAt is owned by the scheduler's
compare-and-set and cannot be written here.`,
		Args: cobra.ExactArgs(2),
		PreRunE: func(_ *cobra.Command, args []string) error {
			key, value = args[0], args[1]
			if key == storage.KeyLastPostAt {
				return fmt.Errorf("%s is managed by the scheduler", storage.KeyLastPostAt)
			}
			if key == storage.KeyPostIntervalMs {
				if _, err := storage.ParseDuration(value); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.RunE = withStore(f, func(ctx context.Context, st storage.Store) error {
		if err := st.Set(ctx, key, value); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("saved"), key)
		return nil
	})
	return cmd
}

func newSettingsIntervalCmd(f *rootFlags) *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "interval <duration>",
		Short: "Set the post interval (e.g. 30m, 6h)",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			var err error
			d, err = time.ParseDuration(args[0])
			if err != nil {
				return err
			}
			if d < time.Millisecond {
				return fmt.Errorf("interval must be at least 1ms")
			}
			return nil
		},
	}
	cmd.RunE = withStore(f, func(ctx context.Context, st storage.Store) error {
		if err := st.Set(ctx, storage.KeyPostIntervalMs, storage.FormatDuration(d)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("saved"), storage.KeyPostIntervalMs, "=", d)
		return nil
	})
	return cmd
}
