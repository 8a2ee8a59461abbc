// Package lifecycle tracks whether the bot transport is set up.
//
// State lives in memory only. A restart is indistinguishable from "never
// initialized" until setup runs again; setup is idempotent and cheap.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/metrics"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

type TransportMode string

const (
	ModeNone    TransportMode = "none"
	ModeWebhook TransportMode = "webhook"
)

// DefaultRetryGap bounds lazy setup re-attempts.
const DefaultRetryGap = time.Minute

var (
	ErrNoTransport = errors.New("bot transport not configured")
	ErrNoPublicURL = errors.New("public base URL not configured")
)

// State is the process-wide lifecycle record.
type State struct {
	Initialized bool
	Mode        TransportMode
	Identity    string
}

type Status struct {
	Running  bool
	Username string
}

// Transport is the platform side of setup.
type Transport interface {
	Identify(ctx context.Context) (string, error)
	RegisterWebhook(ctx context.Context, url, secret string) error
}

type Config struct {
	// WebhookURL is the absolute URL the platform should deliver to.
	WebhookURL string
	Secret     string
	RetryGap   time.Duration
}

// SetupError means transport setup failed; the lifecycle stays uninitialized.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string { return fmt.Sprintf("bot setup (%s): %v", e.Stage, e.Err) }

func (e *SetupError) Unwrap() error { return e.Err }

type Lifecycle struct {
	tr  Transport
	cfg Config

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	// initMu serializes setup so only one registration is ever in flight.
	initMu      sync.Mutex
	lastAttempt time.Time // guarded by initMu

	mu    sync.RWMutex
	state State
}

type Option func(*Lifecycle)

func WithLogger(l logx.Logger) Option { return func(lc *Lifecycle) { lc.log = l } }

func WithEventBus(b eventbus.Bus) Option { return func(lc *Lifecycle) { lc.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(lc *Lifecycle) { lc.metrics = m } }

func WithClock(now func() time.Time) Option { return func(lc *Lifecycle) { lc.now = now } }

// New returns an uninitialized lifecycle. tr may be nil when no bot token is
// configured; setup then always fails with ErrNoTransport.
func New(tr Transport, cfg Config, opts ...Option) *Lifecycle {
	if cfg.RetryGap <= 0 {
		cfg.RetryGap = DefaultRetryGap
	}
	lc := &Lifecycle{
		tr:    tr,
		cfg:   cfg,
		log:   logx.Nop(),
		now:   time.Now,
		state: State{Mode: ModeNone},
	}
	for _, o := range opts {
		o(lc)
	}
	lc.log = lc.log.With(logx.String("comp", "lifecycle"))
	return lc
}

func (lc *Lifecycle) State() State {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.state
}

func (lc *Lifecycle) Status() Status {
	st := lc.State()
	return Status{Running: st.Initialized && st.Mode != ModeNone, Username: st.Identity}
}

// Initialize sets up the transport. Once it has succeeded, further calls
// return the same status without contacting the platform.
func (lc *Lifecycle) Initialize(ctx context.Context) (Status, error) {
	return lc.initialize(ctx, false)
}

// Retry is the lazy re-attempt used by request traffic while uninitialized.
// Attempts closer together than Config.RetryGap are skipped.
func (lc *Lifecycle) Retry(ctx context.Context) (Status, error) {
	if st := lc.Status(); st.Running {
		return st, nil
	}
	return lc.initialize(ctx, true)
}

func (lc *Lifecycle) initialize(ctx context.Context, respectGap bool) (Status, error) {
	lc.initMu.Lock()
	defer lc.initMu.Unlock()

	if st := lc.Status(); st.Running {
		return st, nil
	}
	now := lc.now()
	if respectGap && !lc.lastAttempt.IsZero() && now.Sub(lc.lastAttempt) < lc.cfg.RetryGap {
		return lc.Status(), nil
	}
	lc.lastAttempt = now

	username, err := lc.setup(ctx)
	lc.metrics.SetupAttempt(err)
	if err != nil {
		lc.log.Warn("bot setup failed", logx.Err(err), logx.Duration("retry_gap", lc.cfg.RetryGap))
		return lc.Status(), err
	}

	lc.mu.Lock()
	lc.state = State{Initialized: true, Mode: ModeWebhook, Identity: username}
	lc.mu.Unlock()

	lc.metrics.SetRunning(true)
	lc.log.Info("bot running", logx.String("username", username), logx.String("mode", string(ModeWebhook)))
	eventbus.Publish(lc.bus, eventbus.TypeLifecycleRunning, map[string]any{"username": username})
	return lc.Status(), nil
}

func (lc *Lifecycle) setup(ctx context.Context) (string, error) {
	if lc.tr == nil {
		return "", &SetupError{Stage: "config", Err: ErrNoTransport}
	}
	if lc.cfg.WebhookURL == "" {
		return "", &SetupError{Stage: "config", Err: ErrNoPublicURL}
	}
	username, err := lc.tr.Identify(ctx)
	if err != nil {
		return "", &SetupError{Stage: "identify", Err: err}
	}
	if err := lc.tr.RegisterWebhook(ctx, lc.cfg.WebhookURL, lc.cfg.Secret); err != nil {
		return "", &SetupError{Stage: "register_webhook", Err: err}
	}
	return username, nil
}
