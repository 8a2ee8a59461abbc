package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Saddammed/Saddam48/internal/app"
	"github.com/Saddammed/Saddam48/internal/config"
	"github.com/Saddammed/Saddam48/internal/storage"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "wakebot",
		Short: "Scheduled Telegram poster that catches up when its host wakes",
		Long: `wakebot posts a scheduled message to a Telegram channel at most once per
interval. It has no timer of its own: every HTTP wake ping, webhook
delivery or process start checks whether a post is due.

Configuration comes from an optional JSON or YAML file plus WAKEBOT_*
environment variables (bare names such as PORT and DATABASE_URL also work).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.config, "config", "c", "", "path to config file (json or yaml); empty reads the environment only")

	cmd.AddCommand(
		newServeCmd(f),
		newWakeCmd(f),
		newSettingsCmd(f),
		newLogsCmd(f),
	)
	return cmd
}

// openStore loads config and opens only the store, for commands that do
// not need the bot.
func openStore(f *rootFlags) (storage.Store, error) {
	cfg, err := config.NewManager(f.config).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logx.NewConsole("warn")
	return app.OpenStore(cfg, log)
}

func withStore(f *rootFlags, fn func(ctx context.Context, st storage.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(f)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd.Context(), st)
	}
}
