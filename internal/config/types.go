// Package config loads wakebot's configuration from an optional JSON or YAML
// file plus environment variables, validates it, and hot-reloads the file.
package config

// Config is the on-disk shape. Durations are Go duration strings
// ("90s", "1h").
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Retention RetentionConfig `json:"retention"`
	Debug     DebugConfig     `json:"debug"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	APIURL string `json:"api_url,omitempty"`
	// ChannelID receives the scheduled broadcast.
	ChannelID int64 `json:"channel_id"`
	ThreadID  int   `json:"thread_id,omitempty"`

	// PublicBaseURL is where the platform reaches this process; the webhook
	// is registered at PublicBaseURL + WebhookPath.
	PublicBaseURL string `json:"public_base_url"`
	WebhookPath   string `json:"webhook_path,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`

	SetupRetryGap  string `json:"setup_retry_gap,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`

	// Greeting overrides the /start reply. Echo=false stops echoing plain text.
	Greeting string `json:"greeting,omitempty"`
	Echo     bool   `json:"echo"`
}

type SchedulerConfig struct {
	DefaultInterval string   `json:"default_interval"`
	PublishTimeout  string   `json:"publish_timeout,omitempty"`
	Messages        []string `json:"messages,omitempty"`
	ParseMode       string   `json:"parse_mode,omitempty"`
}

// StorageConfig selects the settings/log backend.
//
//	"storage": { "driver": "sqlite", "path": "./wakebot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type LoggingConfig struct {
	Level   string          `json:"level"`
	Console bool            `json:"console"`
	File    LoggingFile     `json:"file"`
	Chat    LoggingChatSink `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChatSink forwards records at or above MinLevel to a chat.
type LoggingChatSink struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Keep     int    `json:"keep"`
	Schedule string `json:"schedule"`
}

// DebugConfig controls the pprof + /metrics listener. A non-loopback Addr
// needs Token or AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// Default is the baseline every file and env overlay is decoded onto.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":5000", ShutdownTimeout: "10s"},
		Telegram: TelegramConfig{
			WebhookPath:    "/api/telegram/webhook",
			SetupRetryGap:  "1m",
			RequestTimeout: "15s",
			Echo:           true,
		},
		Scheduler: SchedulerConfig{DefaultInterval: "1h", PublishTimeout: "15s"},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./wakebot.db", BusyTimeout: "5s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Chat:    LoggingChatSink{MinLevel: "error", RatePerSec: 1},
		},
		Retention: RetentionConfig{Enabled: true, Keep: 1000, Schedule: "@every 1h"},
		Debug:     DebugConfig{Addr: "127.0.0.1:6060"},
	}
}
