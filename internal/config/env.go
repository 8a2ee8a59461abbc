package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides (WAKEBOT_PORT, ...). Every
// variable below also falls back to its bare name when the prefixed one is
// unset, so PORT, DATABASE_URL, TELEGRAM_BOT_TOKEN and PUBLIC_BASE_URL from
// a hosting platform are picked up as-is.
const EnvPrefix = "WAKEBOT"

// envOverlay holds only what was set; nil fields leave the file value alone.
type envOverlay struct {
	Port     *int    `envconfig:"PORT"`
	HTTPAddr *string `envconfig:"HTTP_ADDR"`

	TelegramToken  *string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL *string `envconfig:"TELEGRAM_API_URL"`
	ChannelID      *int64  `envconfig:"TELEGRAM_CHANNEL_ID"`
	PublicBaseURL  *string `envconfig:"PUBLIC_BASE_URL"`
	WebhookSecret  *string `envconfig:"TELEGRAM_WEBHOOK_SECRET"`

	PostInterval *string `envconfig:"POST_INTERVAL"`

	StorageDriver *string `envconfig:"STORAGE_DRIVER"`
	StoragePath   *string `envconfig:"STORAGE_PATH"`
	DatabaseURL   *string `envconfig:"DATABASE_URL"`

	LogLevel *string `envconfig:"LOG_LEVEL"`

	DebugEnabled *bool   `envconfig:"DEBUG_ENABLED"`
	DebugAddr    *string `envconfig:"DEBUG_ADDR"`
	DebugToken   *string `envconfig:"DEBUG_TOKEN"`
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var ov envOverlay
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	ov.apply(cfg)
	return nil
}

func (ov envOverlay) apply(cfg *Config) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	if ov.Port != nil {
		cfg.HTTP.Addr = ":" + strconv.Itoa(*ov.Port)
	}
	set(&cfg.HTTP.Addr, ov.HTTPAddr)

	set(&cfg.Telegram.Token, ov.TelegramToken)
	set(&cfg.Telegram.APIURL, ov.TelegramAPIURL)
	if ov.ChannelID != nil {
		cfg.Telegram.ChannelID = *ov.ChannelID
	}
	set(&cfg.Telegram.PublicBaseURL, ov.PublicBaseURL)
	set(&cfg.Telegram.WebhookSecret, ov.WebhookSecret)

	set(&cfg.Scheduler.DefaultInterval, ov.PostInterval)

	if ov.DatabaseURL != nil && strings.TrimSpace(*ov.DatabaseURL) != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = strings.TrimSpace(*ov.DatabaseURL)
	}
	set(&cfg.Storage.Driver, ov.StorageDriver)
	set(&cfg.Storage.Path, ov.StoragePath)

	set(&cfg.Logging.Level, ov.LogLevel)

	if ov.DebugEnabled != nil {
		cfg.Debug.Enabled = *ov.DebugEnabled
	}
	set(&cfg.Debug.Addr, ov.DebugAddr)
	set(&cfg.Debug.Token, ov.DebugToken)
}
