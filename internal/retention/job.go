// Package retention trims the message log on a cron schedule. It only runs
// while the process is awake; a sleeping host simply prunes on its next run.
package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/storage"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

const (
	DefaultSchedule = "@every 1h"
	DefaultKeep     = 1000
	// MinKeep keeps at least one full page of GET /api/bot/logs.
	MinKeep = storage.DefaultRecentLogs
	defaultTimeout  = 30 * time.Second
)

type Config struct {
	Enabled  bool
	Keep     int
	Schedule string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Keep <= 0 {
		c.Keep = DefaultKeep
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a usable cron expression or descriptor.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	return nil
}

type Job struct {
	sink    storage.LogSink
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron // non-nil while Run is active
	entry cron.EntryID
	ctx   context.Context

	busy atomic.Bool
}

type Option func(*Job)

func WithLogger(l logx.Logger) Option { return func(j *Job) { j.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(j *Job) { j.metrics = m } }

func WithEventBus(b eventbus.Bus) Option { return func(j *Job) { j.bus = b } }

func New(sink storage.LogSink, cfg Config, opts ...Option) *Job {
	j := &Job{sink: sink, cfg: cfg.withDefaults(), log: logx.Nop()}
	for _, o := range opts {
		o(j)
	}
	j.log = j.log.With(logx.String("comp", "retention"))
	return j
}

// Run drives the schedule until ctx ends.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.c != nil {
		j.mu.Unlock()
		return fmt.Errorf("retention job already running")
	}
	j.ctx = ctx
	j.c = cron.New(cron.WithParser(parser))
	if err := j.scheduleLocked(); err != nil {
		j.c = nil
		j.mu.Unlock()
		return err
	}
	c := j.c
	c.Start()
	j.mu.Unlock()

	<-ctx.Done()

	<-c.Stop().Done()
	j.mu.Lock()
	j.c = nil
	j.mu.Unlock()
	return nil
}

// Apply swaps the configuration. A running schedule is replaced.
func (j *Job) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.cfg
	j.cfg = cfg
	if j.c == nil || (prev.Schedule == cfg.Schedule && prev.Enabled == cfg.Enabled) {
		return nil
	}
	return j.scheduleLocked()
}

func (j *Job) scheduleLocked() error {
	if j.entry != 0 {
		j.c.Remove(j.entry)
		j.entry = 0
	}
	if !j.cfg.Enabled {
		return nil
	}
	id, err := j.c.AddFunc(strings.TrimSpace(j.cfg.Schedule), func() {
		if _, err := j.RunOnce(j.ctx); err != nil {
			j.log.Warn("log retention failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("retention schedule %q: %w", j.cfg.Schedule, err)
	}
	j.entry = id
	j.log.Info("log retention scheduled", logx.String("schedule", j.cfg.Schedule), logx.Int("keep", j.cfg.Keep))
	return nil
}

// RunOnce prunes to the newest Keep entries. Overlapping runs are skipped.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	if !j.busy.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer j.busy.Store(false)

	j.mu.Lock()
	cfg := j.cfg
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	n, err := j.sink.PruneLogs(ctx, cfg.Keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.metrics.LogsPruned(n)
		eventbus.Publish(j.bus, eventbus.TypeLogsPruned, map[string]any{"removed": n, "keep": cfg.Keep})
		j.log.Info("log retention pruned", logx.Int64("removed", n), logx.Int("keep", cfg.Keep))
	}
	return n, nil
}
