// Package app is the composition root: it owns the lifecycle state, the
// store and every long-running loop, and maps config onto components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Saddammed/Saddam48/internal/config"
	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/httpapi"
	"github.com/Saddammed/Saddam48/internal/lifecycle"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/observability/debug"
	"github.com/Saddammed/Saddam48/internal/retention"
	rtsup "github.com/Saddammed/Saddam48/internal/runtime/supervisor"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/transport"
	"github.com/Saddammed/Saddam48/internal/transport/telegram"
	"github.com/Saddammed/Saddam48/internal/wake"
	"github.com/Saddammed/Saddam48/internal/webhook"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
	"github.com/Saddammed/Saddam48/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	// cfg is swapped by the reload loop.
	cfg atomic.Pointer[config.Config]

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store

	adapter   *telegram.Adapter // nil without a bot token
	lifecycle *lifecycle.Lifecycle
	scheduler *wake.Scheduler
	ingress   *webhook.Ingress
	handler   http.Handler
	server    *httpapi.Server
	retention *retention.Job
	debug     *debug.Service

	sup       *rtsup.Supervisor
	startedAt time.Time
}

type Option func(*options)

type options struct {
	store storage.Store
	pub   wake.Publisher
	now   func() time.Time
}

// WithStore replaces the configured store (tests, one-shot commands that
// already opened one).
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// WithPublisher replaces the chat publisher built from telegram config.
func WithPublisher(p wake.Publisher) Option { return func(o *options) { o.pub = p } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New loads config from cfgPath (empty means environment only) and builds
// every component. Nothing touches the network until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, opts...)
}

func build(cfgm *config.Manager, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	// The chat log sink needs the adapter, which needs a logger: start with
	// the sink off, then enable it once the sender exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
		metrics:   metrics.New(),
		startedAt: o.now(),
	}
	a.cfg.Store(cfg)

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: dur("telegram.request_timeout", cfg.Telegram.RequestTimeout, 15*time.Second),
		}, root)
		if err != nil {
			return nil, err
		}
		a.adapter = ad
		logSvc.SetSender(ad)
	} else {
		log.Warn("telegram.token not set; bot transport and scheduled posts disabled")
	}
	logSvc.Apply(logCfg)

	a.store = o.store
	if a.store == nil {
		st, err := OpenStore(cfg, root)
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	var tr lifecycle.Transport
	var sender transport.Sender
	if a.adapter != nil {
		tr, sender = a.adapter, a.adapter
	}

	a.lifecycle = lifecycle.New(tr, lifecycle.Config{
		WebhookURL: webhookURL(cfg),
		Secret:     cfg.Telegram.WebhookSecret,
		RetryGap:   dur("telegram.setup_retry_gap", cfg.Telegram.SetupRetryGap, lifecycle.DefaultRetryGap),
	},
		lifecycle.WithLogger(root),
		lifecycle.WithEventBus(a.bus),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithClock(o.now),
	)

	wcfg := mapWakeConfig(cfg)
	var pub wake.Publisher
	if sender != nil && cfg.Telegram.ChannelID != 0 {
		pub = &wake.ChatPublisher{
			Sender:    sender,
			Target:    transport.ChatTarget{ChatID: cfg.Telegram.ChannelID, ThreadID: cfg.Telegram.ThreadID},
			Messages:  cfg.Scheduler.Messages,
			ParseMode: cfg.Scheduler.ParseMode,
		}
	} else if sender != nil {
		log.Warn("telegram.channel_id not set; scheduled posts disabled")
	}
	if o.pub != nil {
		pub = o.pub
	}
	a.scheduler = wake.New(a.store, a.store, pub, wcfg,
		wake.WithLogger(root),
		wake.WithEventBus(a.bus),
		wake.WithMetrics(a.metrics),
		wake.WithClock(o.now),
	)

	ingressOpts := []webhook.Option{
		webhook.WithLifecycle(a.lifecycle),
		webhook.WithWaker(a.scheduler),
		webhook.WithLogger(root),
		webhook.WithMetrics(a.metrics),
		webhook.WithEventBus(a.bus),
		webhook.WithClock(o.now),
	}
	if sender != nil {
		ingressOpts = append(ingressOpts, webhook.WithReplier(webhook.CommandReplier{
			Greeting: cfg.Telegram.Greeting,
			NoEcho:   !cfg.Telegram.Echo,
		}, sender))
	}
	a.ingress = webhook.New(webhook.Config{Secret: cfg.Telegram.WebhookSecret}, telegram.DecodeUpdate, a.store, ingressOpts...)

	a.handler = httpapi.NewHandler(httpapi.Deps{
		Waker:       a.scheduler,
		Bot:         a.lifecycle,
		Logs:        a.store,
		Webhook:     a.ingress,
		WebhookPath: webhookPath(cfg),
		Log:         root,
		StartedAt:   a.startedAt,
		Now:         o.now,
	})
	a.server = httpapi.NewServer(mapServerConfig(cfg), a.handler, root)

	a.retention = retention.New(a.store, mapRetentionConfig(cfg),
		retention.WithLogger(root),
		retention.WithMetrics(a.metrics),
		retention.WithEventBus(a.bus),
	)
	a.debug = debug.New(mapDebugConfig(cfg), a.metrics.Registry, a.supervisorSnapshot, root)
	return a, nil
}

// OpenStore opens the configured store, falling back to memory for
// driver "none".
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, persistent := mapStorageConfig(cfg)
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage (%s): %w", sc.Driver, err)
	}
	if !persistent {
		log.Warn("storage is in-memory; schedule state is lost on restart")
	}
	return st, nil
}

func (a *App) Config() *config.Config { return a.cfg.Load() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Scheduler() *wake.Scheduler { return a.scheduler }

func (a *App) Lifecycle() *lifecycle.Lifecycle { return a.lifecycle }

// Handler exposes the HTTP surface without a listener.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) supervisorSnapshot() rtsup.Snapshot { return a.sup.Snapshot() }

// Done closes when the app stops or a required loop fails.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal loop error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the HTTP server and background loops, then sets up the
// bot and runs one wake check: a process start is itself a wake.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.Go("http", a.server.Run)
	a.sup.Go("eventbus.log", func(c context.Context) error { return eventbus.LogEvents(c, a.bus, a.log) })
	a.sup.GoRestart("retention", a.retention.Run)
	if a.debug.Enabled() {
		a.sup.GoRestart("debug.http", a.debug.Run, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithMaxRestarts(5))
	}
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("startup", a.startup)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.Watchdog(c, nil) })

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("addr", a.Config().HTTP.Addr),
		logx.Bool("bot", a.adapter != nil),
		logx.Bool("scheduler", a.scheduler.Enabled()),
	)
	return nil
}

func (a *App) startup(ctx context.Context) error {
	res, err := a.WakeOnce(ctx)
	if err != nil {
		a.log.Warn("startup wake check failed", logx.Err(err))
		return nil
	}
	a.log.Info("startup wake check", logx.String("outcome", string(res.Outcome)))
	return nil
}

// WakeOnce brings the bot up if it is not running yet, then runs one wake
// check. Setup failures are logged; the check runs regardless.
func (a *App) WakeOnce(ctx context.Context) (wake.Result, error) {
	if a.adapter != nil && !a.lifecycle.Status().Running {
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		st, err := a.lifecycle.Initialize(ictx)
		cancel()
		if err != nil {
			a.log.Warn("bot setup failed; retrying lazily on traffic", logx.Err(err))
		} else {
			a.log.Info("bot running", logx.String("username", st.Username))
		}
	}
	return a.scheduler.CheckAndPostOnWake(ctx)
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live sections and flags the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	var restart []string
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(next))
		case "scheduler":
			a.scheduler.Apply(mapWakeConfig(next))
		case "retention":
			if err := a.retention.Apply(mapRetentionConfig(next)); err != nil {
				a.log.Warn("retention config rejected; keeping previous", logx.Err(err))
			}
		default:
			restart = append(restart, s)
		}
	}
	a.cfg.Store(next)
	if len(restart) > 0 {
		a.log.Warn("config changed in sections that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	eventbus.Publish(a.bus, eventbus.TypeConfigReloaded, map[string]any{"sections": sections})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// Stop shuts down step by step; each step gets its own deadline within ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping")
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "supervisor", 12*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	err := a.sup.Err()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// step runs fn bounded by max and by ctx's own deadline. A step that
// overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// Run starts the app and blocks until ctx ends or a required loop fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}
