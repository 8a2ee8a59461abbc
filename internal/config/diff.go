package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{"logging": true, "scheduler": true, "retention": true}

// IsLive reports whether a changed section takes effect on reload.
func IsLive(section string) bool { return liveSections[section] }

// SummarizeConfigChange lists changed sections (sorted) and log fields that
// describe the new values. Secrets (tokens, DSNs, webhook secret) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		fields = append(fields, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.channel_id", nt.ChannelID),
			logx.String("telegram.public_base_url", nt.PublicBaseURL),
			logx.String("telegram.webhook_path", nt.WebhookPath),
			logx.Bool("telegram.webhook_secret_set", nt.WebhookSecret != ""),
		)
	}

	oldSched, ns := oldCfg.Scheduler, newCfg.Scheduler
	if oldSched.DefaultInterval != ns.DefaultInterval || oldSched.PublishTimeout != ns.PublishTimeout ||
		oldSched.ParseMode != ns.ParseMode || !slices.Equal(oldSched.Messages, ns.Messages) {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.default_interval", ns.DefaultInterval),
			logx.String("scheduler.publish_timeout", ns.PublishTimeout),
			logx.Int("scheduler.messages", len(ns.Messages)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
		fields = append(fields,
			logx.Bool("retention.enabled", newCfg.Retention.Enabled),
			logx.Int("retention.keep", newCfg.Retention.Keep),
			logx.String("retention.schedule", newCfg.Retention.Schedule),
		)
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	if od != nd {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", nd.Addr),
			logx.Bool("debug.token_set", nd.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, fields
}
