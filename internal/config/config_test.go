package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

const sampleJSON = `{
  "http": {"addr": ":9000"},
  "telegram": {"token": "123:abc", "channel_id": -100200, "public_base_url": "https://bot.example.test"},
  "scheduler": {"default_interval": "30m", "messages": ["gm", "still here"]},
  "storage": {"driver": "file", "path": "./state"},
  "retention": {"enabled": true, "keep": 50, "schedule": "@daily"}
}`

const sampleYAML = `
http:
  addr: ":9000"
telegram:
  token: "123:abc"
  channel_id: -100200
  public_base_url: https://bot.example.test
scheduler:
  default_interval: 30m
  messages: [gm, still here]
storage:
  driver: file
  path: ./state
retention:
  enabled: true
  keep: 50
  schedule: "@daily"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_JSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := NewManager(writeFile(t, "c.json", sampleJSON)).Load()
	require.NoError(t, err)
	fromYAML, err := NewManager(writeFile(t, "c.yaml", sampleYAML)).Load()
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)

	assert.Equal(t, int64(-100200), fromJSON.Telegram.ChannelID)
	assert.Equal(t, []string{"gm", "still here"}, fromJSON.Scheduler.Messages)
	// Untouched sections keep their defaults.
	assert.Equal(t, "/api/telegram/webhook", fromJSON.Telegram.WebhookPath)
	assert.Equal(t, "15s", fromJSON.Scheduler.PublishTimeout)
	assert.True(t, fromJSON.Logging.Console)
}

func TestLoad_Strict(t *testing.T) {
	tests := map[string]string{
		"unknown key":   `{"telegram": {"tokn": "x"}}`,
		"trailing data": `{} {}`,
		"wrong type":    `{"retention": {"keep": "many"}}`,
	}
	for name, body := range tests {
		_, err := NewManager(writeFile(t, "c.json", body)).Load()
		assert.Error(t, err, name)
	}
	_, err := NewManager(writeFile(t, "c.yml", "storage:\n  drvier: file\n")).Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/wake")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bare")
	t.Setenv("WAKEBOT_TELEGRAM_BOT_TOKEN", "prefixed")
	t.Setenv("PUBLIC_BASE_URL", "https://hosted.example.test")

	cfg, err := NewManager(writeFile(t, "c.json", sampleJSON)).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db/wake", cfg.Storage.DSN)
	assert.Equal(t, "prefixed", cfg.Telegram.Token)
	assert.Equal(t, "https://hosted.example.test", cfg.Telegram.PublicBaseURL)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("WAKEBOT_STORAGE_DRIVER", "memory")
	cfg, err := NewManager("").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(c *Config)
		ok   bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad interval", func(c *Config) { c.Scheduler.DefaultInterval = "soon" }, false},
		{"negative interval", func(c *Config) { c.Scheduler.DefaultInterval = "-1m" }, false},
		{"relative public url", func(c *Config) { c.Telegram.PublicBaseURL = "bot.example.test" }, false},
		{"webhook path", func(c *Config) { c.Telegram.WebhookPath = "hook" }, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, false},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, false},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, false},
		{"memory", func(c *Config) { c.Storage = StorageConfig{Driver: "memory"} }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"chat sink without chat", func(c *Config) { c.Logging.Chat.Enabled = true }, false},
		{"bad retention schedule", func(c *Config) { c.Retention.Schedule = "whenever" }, false},
		{"disabled retention ignores schedule", func(c *Config) {
			c.Retention.Enabled = false
			c.Retention.Schedule = "whenever"
		}, true},
		{"parse mode", func(c *Config) { c.Scheduler.ParseMode = "bbcode" }, false},
		{"retention keep below a logs page", func(c *Config) { c.Retention.Keep = 19 }, false},
		{"retention keep one page", func(c *Config) { c.Retention.Keep = 20 }, true},
		{"retention keep default", func(c *Config) { c.Retention.Keep = 0 }, true},
		{"negative retention keep", func(c *Config) { c.Retention.Keep = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mut(c)
			err := Validate(c)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Telegram.Token = "999:secret-token"
	b.Storage = StorageConfig{Driver: "postgres", DSN: "postgres://u:hunter2@db/wake"}
	b.Retention.Keep = 10
	b.Debug.Token = "debug-secret"

	sections, fields := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"debug", "retention", "storage", "telegram"}, sections)

	var buf bytes.Buffer
	logx.NewJSON(&buf, "debug").Info("config change", fields...)
	out := buf.String()
	assert.Contains(t, out, `"retention.keep":10`)
	for _, secret := range []string{"secret-token", "hunter2", "debug-secret"} {
		assert.NotContains(t, out, secret)
	}

	none, _ := SummarizeConfigChange(a, Default())
	assert.Empty(t, none)

	assert.True(t, IsLive("retention"))
	assert.False(t, IsLive("storage"))
}

func TestWatch_PublishesValidChanges(t *testing.T) {
	path := writeFile(t, "c.json", sampleJSON)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "loud"}}`), 0o600))
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c.Logging)
	case <-time.After(time.Second):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}, "storage": {"driver": "memory"}}`), 0o600))
	select {
	case c := <-sub:
		assert.Equal(t, "debug", c.Logging.Level)
		assert.Equal(t, c, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
