// Package httpapi is the bot's public HTTP surface: the wake ping, status,
// recent message log, health check and the mounted webhook endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Saddammed/Saddam48/internal/lifecycle"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/wake"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

const DefaultWebhookPath = "/api/telegram/webhook"

// Waker is the scheduler entry point.
type Waker interface {
	CheckAndPostOnWake(ctx context.Context) (wake.Result, error)
}

// Bot is the slice of lifecycle.Lifecycle the API reads and nudges.
type Bot interface {
	Status() lifecycle.Status
	Retry(ctx context.Context) (lifecycle.Status, error)
}

type Deps struct {
	Waker Waker
	Bot   Bot
	Logs  storage.LogSink

	// Webhook is mounted at WebhookPath when set.
	Webhook     http.Handler
	WebhookPath string

	// NudgeTimeout bounds the background setup retry a wake triggers while
	// the bot is stopped. Default 30s.
	NudgeTimeout time.Duration

	Log       logx.Logger
	StartedAt time.Time
	Now       func() time.Time
}

type wakeResponse struct {
	Woken  bool   `json:"woken"`
	Posted bool   `json:"posted"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status   string  `json:"status"`
	Username *string `json:"username"`
	Uptime   float64 `json:"uptime"`
}

type api struct {
	Deps
}

// NewHandler wires the routes and middleware.
func NewHandler(d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = d.Now()
	}
	if d.WebhookPath == "" {
		d.WebhookPath = DefaultWebhookPath
	}
	if d.NudgeTimeout <= 0 {
		d.NudgeTimeout = 30 * time.Second
	}
	d.Log = d.Log.With(logx.String("comp", "http"))
	a := &api{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bot/wake", a.handleWake)
	mux.HandleFunc("GET /api/bot/status", a.handleStatus)
	mux.HandleFunc("GET /api/bot/logs", a.handleLogs)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if d.Webhook != nil {
		mux.Handle(d.WebhookPath, d.Webhook)
	}

	return chain(mux, requestID, recoverer(d.Log), accessLog(d.Log))
}

func (a *api) handleWake(w http.ResponseWriter, r *http.Request) {
	// A claimed window must not be wasted because the pinger hung up.
	ctx := context.WithoutCancel(r.Context())
	log := a.Log.With(logx.String("request_id", RequestIDFrom(r.Context())))

	// Setup talks to the platform and may be slow; the wake answer must not
	// wait for it.
	if a.Bot != nil && !a.Bot.Status().Running {
		go a.nudge(ctx, log)
	}
	if a.Waker == nil {
		writeJSON(w, http.StatusOK, wakeResponse{Woken: true})
		return
	}

	res, err := a.Waker.CheckAndPostOnWake(ctx)
	var pe *wake.PublishError
	switch {
	case errors.As(err, &pe):
		log.Error("wake publish failed", logx.String("slot", pe.Slot), logx.Err(err))
		writeJSON(w, http.StatusBadGateway, wakeResponse{Woken: true, Error: "Publish failed"})
	case err != nil:
		log.Error("wake failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, wakeResponse{Error: "Wake failed"})
	default:
		log.Debug("wake handled", logx.String("outcome", string(res.Outcome)))
		writeJSON(w, http.StatusOK, wakeResponse{Woken: true, Posted: res.Posted})
	}
}

func (a *api) nudge(ctx context.Context, log logx.Logger) {
	ctx, cancel := context.WithTimeout(ctx, a.NudgeTimeout)
	defer cancel()
	if _, err := a.Bot.Retry(ctx); err != nil {
		log.Debug("lazy bot setup failed", logx.Err(err))
	}
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: "stopped",
		Uptime: a.Now().Sub(a.StartedAt).Seconds(),
	}
	if a.Bot != nil {
		st := a.Bot.Status()
		if st.Running {
			resp.Status = "running"
		}
		if st.Username != "" {
			u := st.Username
			resp.Username = &u
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.Logs == nil {
		writeJSON(w, http.StatusOK, []storage.LogEntry{})
		return
	}
	logs, err := a.Logs.RecentLogs(r.Context(), storage.DefaultRecentLogs)
	if err != nil {
		a.Log.Error("recent logs failed", logx.String("request_id", RequestIDFrom(r.Context())), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load logs"})
		return
	}
	if logs == nil {
		logs = []storage.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
