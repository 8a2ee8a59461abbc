package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/Saddammed/Saddam48/internal/config"
	"github.com/Saddammed/Saddam48/internal/httpapi"
	"github.com/Saddammed/Saddam48/internal/observability/debug"
	"github.com/Saddammed/Saddam48/internal/retention"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/transport"
	"github.com/Saddammed/Saddam48/internal/wake"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

// Every mapper below assumes cfg passed config.Validate, so duration
// parse errors fall back to the default instead of failing.

func dur(path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lg := cfg.Logging
	return logx.Config{
		Level:   lg.Level,
		Console: lg.Console,
		File:    logx.FileConfig{Enabled: lg.File.Enabled, Path: lg.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lg.Chat.Enabled,
			Target:     transport.ChatTarget{ChatID: lg.Chat.ChatID, ThreadID: lg.Chat.ThreadID},
			MinLevel:   lg.Chat.MinLevel,
			RatePerSec: lg.Chat.RatePerSec,
		},
	}
}

// mapStorageConfig reports persistent=false for the in-memory fallback.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, persistent bool) {
	st := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(st.Driver))
	if driver == "" || driver == "none" {
		driver = "memory"
	}
	sc = storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(st.Path),
		DSN:          strings.TrimSpace(st.DSN),
		BusyTimeout:  dur("storage.busy_timeout", st.BusyTimeout, 5*time.Second),
		MaxOpenConns: st.MaxOpenConns,
	}
	return sc, driver != "memory" && driver != "mem"
}

func mapWakeConfig(cfg *config.Config) wake.Config {
	return wake.Config{
		DefaultInterval: dur("scheduler.default_interval", cfg.Scheduler.DefaultInterval, wake.DefaultInterval),
		PublishTimeout:  dur("scheduler.publish_timeout", cfg.Scheduler.PublishTimeout, wake.DefaultPublishTimeout),
	}
}

func mapRetentionConfig(cfg *config.Config) retention.Config {
	return retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Keep:     cfg.Retention.Keep,
		Schedule: cfg.Retention.Schedule,
	}
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}

func mapServerConfig(cfg *config.Config) httpapi.ServerConfig {
	return httpapi.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 10*time.Second),
	}
}

func webhookPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Telegram.WebhookPath); p != "" {
		return p
	}
	return httpapi.DefaultWebhookPath
}

// webhookURL joins the public base URL and the webhook path; empty when no
// public URL is configured.
func webhookURL(cfg *config.Config) string {
	base := strings.TrimSpace(cfg.Telegram.PublicBaseURL)
	if base == "" {
		return ""
	}
	u, err := url.JoinPath(base, webhookPath(cfg))
	if err != nil {
		return ""
	}
	return u
}
