// Package wake decides, on each wake signal, whether the scheduled broadcast
// is due and claims the window with a compare-and-set on lastPostAt.
//
// There is no timer: every HTTP wake ping or webhook delivery is a chance to
// catch up. The CAS keyed on the previously observed value lets exactly one
// of any number of racing callers (in this process or another sharing the
// store) post per interval.
package wake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/storage"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

const (
	DefaultInterval       = time.Hour
	DefaultPublishTimeout = 15 * time.Second
)

type Outcome string

const (
	OutcomePosted       Outcome = "posted"
	OutcomeNotDue       Outcome = "not_due"
	OutcomeClaimLost    Outcome = "claim_lost"
	OutcomePublishError Outcome = "publish_error"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeStoreError   Outcome = "store_error"
)

// Result describes one CheckAndPostOnWake call.
type Result struct {
	Posted  bool
	Outcome Outcome
	// Slot is the instant written to lastPostAt when this call claimed.
	Slot time.Time
	// NextDue is when the following post becomes due (zero if unknown).
	NextDue time.Time
}

// Publisher produces and sends the scheduled content for the window that
// starts at slot and lasts interval. It returns the text that was sent,
// which is recorded in the message log.
type Publisher interface {
	Publish(ctx context.Context, slot time.Time, interval time.Duration) (string, error)
}

type Config struct {
	DefaultInterval time.Duration
	PublishTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = DefaultInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}

type Scheduler struct {
	settings storage.SettingsStore
	logs     storage.LogSink
	pub      Publisher

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Scheduler)

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithEventBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New returns a scheduler. pub may be nil, which disables posting.
func New(settings storage.SettingsStore, logs storage.LogSink, pub Publisher, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		settings: settings,
		logs:     logs,
		pub:      pub,
		log:      logx.Nop(),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "wake"))
	return s
}

// Apply swaps the runtime config (hot reload).
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Enabled reports whether a publisher is configured.
func (s *Scheduler) Enabled() bool { return s != nil && s.pub != nil }

// CheckAndPostOnWake posts the scheduled broadcast if at least one interval
// has elapsed since lastPostAt.
//
// Not-due and lost claims are normal results, not errors. Store failures
// return *StoreError; a failed publish after a won claim returns
// *PublishError together with Result{Outcome: OutcomePublishError}.
func (s *Scheduler) CheckAndPostOnWake(ctx context.Context) (Result, error) {
	if !s.Enabled() {
		return Result{Outcome: OutcomeDisabled}, nil
	}
	res, err := s.checkAndPost(ctx)
	s.metrics.Wake(string(res.Outcome))
	return res, err
}

func (s *Scheduler) checkAndPost(ctx context.Context) (Result, error) {
	cfg := s.config()
	now := s.now()

	raw, present, err := s.settings.Get(ctx, storage.KeyLastPostAt)
	if err != nil {
		return Result{Outcome: OutcomeStoreError}, &StoreError{Op: "read " + storage.KeyLastPostAt, Err: err}
	}
	interval, err := s.interval(ctx, cfg)
	if err != nil {
		return Result{Outcome: OutcomeStoreError}, err
	}

	expect := storage.Absent()
	if present {
		expect = storage.Value(raw)
		last, perr := storage.ParseInstant(raw)
		switch {
		case perr != nil:
			// Treat as due; the CAS still keys on the raw value.
			s.log.Warn("lastPostAt unparsable, treating as due", logx.String("raw", raw), logx.Err(perr))
		case now.Sub(last) < interval:
			return Result{Outcome: OutcomeNotDue, NextDue: last.Add(interval)}, nil
		}
	}

	slot := now.UTC()
	won, err := s.settings.CompareAndSet(ctx, storage.KeyLastPostAt, expect, storage.FormatInstant(slot))
	if err != nil {
		return Result{Outcome: OutcomeStoreError}, &StoreError{Op: "claim " + storage.KeyLastPostAt, Err: err}
	}
	if !won {
		s.log.Debug("wake claim lost", logx.String("expected", expect.String()))
		return Result{Outcome: OutcomeClaimLost}, nil
	}

	res := Result{Slot: slot, NextDue: slot.Add(interval)}
	text, err := s.publish(ctx, cfg, slot, interval)
	if err != nil {
		res.Outcome = OutcomePublishError
		s.log.Error("scheduled publish failed; window consumed",
			logx.Time("slot", slot), logx.Time("next_due", res.NextDue), logx.Err(err))
		eventbus.Publish(s.bus, eventbus.TypeWakePublishFailed, map[string]any{"slot": slot, "err": err.Error()})
		return res, &PublishError{Slot: storage.FormatInstant(slot), Err: err}
	}

	res.Posted = true
	res.Outcome = OutcomePosted
	if _, err := s.logs.AppendLog(ctx, storage.LogEntry{Message: text, Direction: storage.Outbound}); err != nil {
		// The post went out; losing the history row does not undo it.
		s.metrics.LogAppendError("wake")
		s.log.Warn("outbound log append failed after publish", logx.Time("slot", slot), logx.Err(err))
	}
	s.log.Info("scheduled post published", logx.Time("slot", slot), logx.Duration("interval", interval))
	eventbus.Publish(s.bus, eventbus.TypeWakePosted, map[string]any{"slot": slot})
	return res, nil
}

// interval reads postIntervalMs, falling back to the configured default when
// the key is missing or invalid.
func (s *Scheduler) interval(ctx context.Context, cfg Config) (time.Duration, error) {
	raw, ok, err := s.settings.Get(ctx, storage.KeyPostIntervalMs)
	if err != nil {
		return 0, &StoreError{Op: "read " + storage.KeyPostIntervalMs, Err: err}
	}
	if !ok {
		return cfg.DefaultInterval, nil
	}
	d, err := storage.ParseDuration(raw)
	if err != nil {
		s.log.Warn("postIntervalMs invalid, using default",
			logx.String("raw", raw), logx.Duration("default", cfg.DefaultInterval), logx.Err(err))
		return cfg.DefaultInterval, nil
	}
	return d, nil
}

func (s *Scheduler) publish(ctx context.Context, cfg Config, slot time.Time, interval time.Duration) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
	defer cancel()

	type published struct {
		text string
		err  error
	}
	ch := make(chan published, 1)
	start := time.Now()
	go func() {
		text, err := s.pub.Publish(pctx, slot, interval)
		ch <- published{text, err}
	}()

	var (
		text string
		err  error
	)
	select {
	case p := <-ch:
		text, err = p.text, p.err
	case <-pctx.Done():
		err = pctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		s.log.Warn("publish timed out", logx.Duration("timeout", cfg.PublishTimeout))
	}
	s.metrics.Publish(time.Since(start), err)
	return text, err
}
