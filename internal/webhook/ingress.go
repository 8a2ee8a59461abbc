// Package webhook receives the messaging platform's push deliveries.
//
// The endpoint answers 2xx for anything it will never be able to process
// (malformed or irrelevant updates, duplicates) so the platform does not
// retry them. It answers 5xx only when the inbound message could not be
// durably logged, so a redelivery gets another chance.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Saddammed/Saddam48/internal/eventbus"
	"github.com/Saddammed/Saddam48/internal/lifecycle"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/transport"
	"github.com/Saddammed/Saddam48/internal/wake"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

// SecretHeader carries the token given to the platform at registration.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const defaultMaxBody = 1 << 20

// Decoder turns one delivery body into an inbound text message. ok=false
// marks a valid delivery without a text message.
type Decoder func(body []byte) (msg transport.InboundMessage, ok bool, err error)

// Lifecycle is the slice of lifecycle.Lifecycle the ingress needs.
type Lifecycle interface {
	Retry(ctx context.Context) (lifecycle.Status, error)
}

// Waker lets webhook traffic double as a wake signal.
type Waker interface {
	CheckAndPostOnWake(ctx context.Context) (wake.Result, error)
}

type Config struct {
	Secret       string
	MaxBody      int64
	DedupeTTL    time.Duration
	DedupeSize   int
	ReplyTimeout time.Duration
}

type Ingress struct {
	cfg    Config
	decode Decoder
	logs   storage.LogSink

	lc      Lifecycle
	waker   Waker
	replier Replier
	sender  transport.Sender

	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus
	seen    *seenCache
	now     func() time.Time
}

type Option func(*Ingress)

func WithLifecycle(lc Lifecycle) Option { return func(in *Ingress) { in.lc = lc } }

func WithWaker(w Waker) Option { return func(in *Ingress) { in.waker = w } }

// WithReplier enables replies sent through sender.
func WithReplier(r Replier, sender transport.Sender) Option {
	return func(in *Ingress) { in.replier, in.sender = r, sender }
}

func WithLogger(l logx.Logger) Option { return func(in *Ingress) { in.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(in *Ingress) { in.metrics = m } }

func WithEventBus(b eventbus.Bus) Option { return func(in *Ingress) { in.bus = b } }

func WithClock(now func() time.Time) Option { return func(in *Ingress) { in.now = now } }

func New(cfg Config, decode Decoder, logs storage.LogSink, opts ...Option) *Ingress {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	in := &Ingress{cfg: cfg, decode: decode, logs: logs, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(in)
	}
	in.seen = newSeenCache(cfg.DedupeTTL, cfg.DedupeSize, in.now)
	in.log = in.log.With(logx.String("comp", "webhook"))
	return in
}

func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false})
		return
	}
	if in.cfg.Secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(in.cfg.Secret)) != 1 {
			in.metrics.Webhook("unauthorized")
			in.log.Warn("webhook secret mismatch", logx.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, in.cfg.MaxBody))
	if err != nil {
		in.drop(w, "malformed", "webhook body unreadable", logx.Err(err))
		return
	}
	msg, ok, err := in.decode(body)
	if err != nil {
		in.drop(w, "malformed", "webhook payload malformed", logx.Err(err), logx.Int("bytes", len(body)))
		return
	}
	if !ok {
		in.drop(w, "ignored", "webhook update without text", logx.Int64("update_id", msg.UpdateID))
		return
	}
	// Ids are only unique when positive; anything else skips dedupe.
	dedupe := msg.UpdateID > 0
	if dedupe && in.seen.CheckAndMark(msg.UpdateID) {
		in.drop(w, "duplicate", "webhook redelivery dropped", logx.Int64("update_id", msg.UpdateID))
		return
	}

	// Work past this point must not be cut short by the platform hanging up.
	ctx := context.WithoutCancel(r.Context())

	if _, err := in.logs.AppendLog(ctx, storage.LogEntry{Message: msg.Text, Direction: storage.Inbound}); err != nil {
		if dedupe {
			in.seen.Forget(msg.UpdateID)
		}
		in.metrics.Webhook("store_error")
		in.metrics.LogAppendError("webhook_inbound")
		in.log.Error("inbound log append failed", logx.Int64("update_id", msg.UpdateID), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	eventbus.Publish(in.bus, eventbus.TypeWebhookReceived, map[string]any{"update_id": msg.UpdateID, "chat_id": msg.ChatID})

	if in.lc != nil {
		if _, err := in.lc.Retry(ctx); err != nil {
			in.log.Debug("lazy bot setup failed", logx.Err(err))
		}
	}
	in.reply(ctx, msg)
	if in.waker != nil {
		if _, err := in.waker.CheckAndPostOnWake(ctx); err != nil {
			in.log.Warn("wake from webhook failed", logx.Err(err))
		}
	}

	in.metrics.Webhook("ok")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (in *Ingress) drop(w http.ResponseWriter, outcome, msg string, fields ...logx.Field) {
	in.metrics.Webhook(outcome)
	if outcome == "malformed" {
		in.log.Warn(msg, fields...)
	} else {
		in.log.Debug(msg, fields...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (in *Ingress) reply(ctx context.Context, msg transport.InboundMessage) {
	if in.replier == nil || in.sender == nil {
		return
	}
	text, ok := in.replier.Reply(ctx, msg)
	if !ok || text == "" {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, in.cfg.ReplyTimeout)
	defer cancel()

	_, err := in.sender.SendText(rctx, msg.Target(), text, &transport.SendOptions{DisablePreview: true})
	in.metrics.Reply(err)
	if err != nil {
		in.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return
	}
	if _, err := in.logs.AppendLog(ctx, storage.LogEntry{Message: text, Direction: storage.Outbound}); err != nil {
		in.metrics.LogAppendError("webhook_reply")
		in.log.Warn("outbound reply log append failed", logx.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
