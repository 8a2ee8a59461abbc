package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saddammed/Saddam48/internal/lifecycle"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/wake"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

type stubWaker struct {
	res   wake.Result
	err   error
	calls atomic.Int32
}

func (s *stubWaker) CheckAndPostOnWake(ctx context.Context) (wake.Result, error) {
	s.calls.Add(1)
	return s.res, s.err
}

type stubBot struct {
	st      lifecycle.Status
	retries atomic.Int32
	// block, when set, holds Retry until closed.
	block chan struct{}
}

func (b *stubBot) Status() lifecycle.Status { return b.st }

func (b *stubBot) Retry(ctx context.Context) (lifecycle.Status, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
		}
	}
	b.retries.Add(1)
	return b.st, errors.New("still down")
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestWake(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		waker    *stubWaker
		wantCode int
		wantBody string
	}{
		{
			name:     "posted",
			waker:    &stubWaker{res: wake.Result{Posted: true, Outcome: wake.OutcomePosted}},
			wantCode: http.StatusOK,
			wantBody: `{"woken":true,"posted":true}`,
		},
		{
			name:     "not due",
			waker:    &stubWaker{res: wake.Result{Outcome: wake.OutcomeNotDue}},
			wantCode: http.StatusOK,
			wantBody: `{"woken":true,"posted":false}`,
		},
		{
			name:     "store failure",
			waker:    &stubWaker{err: &wake.StoreError{Op: "get lastPostAt", Err: errors.New("connection refused")}},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"woken":false,"posted":false,"error":"Wake failed"}`,
		},
		{
			name:     "publish failure",
			waker:    &stubWaker{err: &wake.PublishError{Slot: "2024-01-01T00:00:00Z", Err: errors.New("chat not found")}},
			wantCode: http.StatusBadGateway,
			wantBody: `{"woken":true,"posted":false,"error":"Publish failed"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(Deps{Waker: tt.waker})
			rec := do(t, h, http.MethodPost, "/api/bot/wake")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "refused")
			assert.Equal(t, int32(1), tt.waker.calls.Load())
		})
	}
}

func TestWake_NudgesStoppedBot(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	h := NewHandler(Deps{Waker: &stubWaker{}, Bot: bot})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/bot/wake").Code)
	require.Eventually(t, func() bool { return bot.retries.Load() == 1 }, time.Second, 5*time.Millisecond)

	running := &stubBot{st: lifecycle.Status{Running: true, Username: "b"}}
	h = NewHandler(Deps{Waker: &stubWaker{}, Bot: running})
	do(t, h, http.MethodPost, "/api/bot/wake")
	assert.Zero(t, running.retries.Load())
}

func TestWake_DoesNotWaitForBotSetup(t *testing.T) {
	t.Parallel()
	bot := &stubBot{block: make(chan struct{})}
	waker := &stubWaker{res: wake.Result{Posted: true, Outcome: wake.OutcomePosted}}
	h := NewHandler(Deps{Waker: waker, Bot: bot})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(t, h, http.MethodPost, "/api/bot/wake") }()
	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"woken":true,"posted":true}`, rec.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("wake blocked on bot setup")
	}
	assert.Zero(t, bot.retries.Load())

	close(bot.block)
	require.Eventually(t, func() bool { return bot.retries.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWake_NudgeIsBounded(t *testing.T) {
	t.Parallel()
	bot := &stubBot{block: make(chan struct{})}
	h := NewHandler(Deps{Waker: &stubWaker{}, Bot: bot, NudgeTimeout: 20 * time.Millisecond})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/bot/wake").Code)
	// Never released: the timeout ends the retry.
	require.Eventually(t, func() bool { return bot.retries.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWake_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := NewHandler(Deps{Waker: &stubWaker{}})
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/bot/wake").Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(90 * time.Second)
	clock := func() time.Time { return now }

	h := NewHandler(Deps{Bot: &stubBot{}, StartedAt: start, Now: clock})
	rec := do(t, h, http.MethodGet, "/api/bot/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"stopped","username":null,"uptime":90}`, rec.Body.String())

	h = NewHandler(Deps{Bot: &stubBot{st: lifecycle.Status{Running: true, Username: "wake_bot"}}, StartedAt: start, Now: clock})
	rec = do(t, h, http.MethodGet, "/api/bot/status")
	assert.JSONEq(t, `{"status":"running","username":"wake_bot","uptime":90}`, rec.Body.String())
}

func TestLogs_NewestTwenty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	for i := 0; i < 25; i++ {
		_, err := st.AppendLog(ctx, storage.LogEntry{Message: fmt.Sprintf("m%d", i), Direction: storage.Inbound})
		require.NoError(t, err)
	}

	rec := do(t, NewHandler(Deps{Logs: st}), http.MethodGet, "/api/bot/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []storage.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 20)
	assert.Equal(t, "m24", got[0].Message)
	assert.Equal(t, "m5", got[19].Message)
}

func TestLogs_EmptyIsArray(t *testing.T) {
	t.Parallel()
	rec := do(t, NewHandler(Deps{Logs: storage.NewMemory()}), http.MethodGet, "/api/bot/logs")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestWebhookMount(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })
	h := NewHandler(Deps{Webhook: hook, WebhookPath: "/hook"})
	do(t, h, http.MethodPost, "/hook")
	assert.Equal(t, int32(1), hits.Load())
}

func TestMiddleware_RequestIDAndRecover(t *testing.T) {
	t.Parallel()
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("kaboom") })
	h := chain(boom, requestID, recoverer(logx.Nop()), accessLog(logx.Nop()))

	rec := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	NewHandler(Deps{}).ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ServerConfig{ShutdownTimeout: time.Second}, NewHandler(Deps{}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
