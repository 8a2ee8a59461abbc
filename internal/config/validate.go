package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Saddammed/Saddam48/internal/retention"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks cfg as a whole and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		bad("http.addr is required")
	}
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	tg := cfg.Telegram
	if p := strings.TrimSpace(tg.WebhookPath); p != "" && !strings.HasPrefix(p, "/") {
		bad("telegram.webhook_path must start with /")
	}
	if raw := strings.TrimSpace(tg.PublicBaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			bad("telegram.public_base_url must be an absolute http(s) URL")
		}
	}
	if raw := strings.TrimSpace(tg.APIURL); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			bad("telegram.api_url must be an absolute URL")
		}
	}
	dur("telegram.setup_retry_gap", tg.SetupRetryGap)
	dur("telegram.request_timeout", tg.RequestTimeout)

	dur("scheduler.default_interval", cfg.Scheduler.DefaultInterval)
	dur("scheduler.publish_timeout", cfg.Scheduler.PublishTimeout)
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.ParseMode)) {
	case "", "html", "markdown", "markdownv2":
	default:
		bad("scheduler.parse_mode: unsupported %q", cfg.Scheduler.ParseMode)
	}

	st := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "none", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			bad("storage.path is required when storage.driver=%s", st.Driver)
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(st.DSN) == "" {
			bad("storage.dsn (or DATABASE_URL) is required when storage.driver=%s", st.Driver)
		}
	default:
		bad("storage.driver: unknown %q", st.Driver)
	}
	dur("storage.busy_timeout", st.BusyTimeout)
	if st.MaxOpenConns < 0 {
		bad("storage.max_open_conns must be >= 0")
	}

	lg := cfg.Logging
	if !logx.ValidLevel(lg.Level) {
		bad("logging.level: unknown %q", lg.Level)
	}
	if lg.File.Enabled && strings.TrimSpace(lg.File.Path) == "" {
		bad("logging.file.path is required when logging.file.enabled")
	}
	if lg.Chat.Enabled {
		if lg.Chat.ChatID == 0 {
			bad("logging.chat.chat_id is required when logging.chat.enabled")
		}
		if !logx.ValidLevel(lg.Chat.MinLevel) {
			bad("logging.chat.min_level: unknown %q", lg.Chat.MinLevel)
		}
	}
	if lg.Chat.RatePerSec < 0 {
		bad("logging.chat.rate_per_sec must be >= 0")
	}

	if k := cfg.Retention.Keep; k < 0 || (k > 0 && k < retention.MinKeep) {
		bad("retention.keep must be 0 (default) or >= %d", retention.MinKeep)
	}
	if cfg.Retention.Enabled {
		if err := retention.ValidateSchedule(cfg.Retention.Schedule); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Debug.MutexProfileFraction < 0 || cfg.Debug.BlockProfileRate < 0 {
		bad("debug profile rates must be >= 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
