package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saddammed/Saddam48/internal/lifecycle"
	"github.com/Saddammed/Saddam48/internal/metrics"
	"github.com/Saddammed/Saddam48/internal/storage"
	"github.com/Saddammed/Saddam48/internal/transport"
	"github.com/Saddammed/Saddam48/internal/transport/telegram"
	"github.com/Saddammed/Saddam48/internal/wake"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []transport.ChatTarget
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

type fakeLifecycle struct{ calls atomic.Int32 }

func (f *fakeLifecycle) Retry(ctx context.Context) (lifecycle.Status, error) {
	f.calls.Add(1)
	return lifecycle.Status{}, errors.New("not yet")
}

type fakeWaker struct{ calls atomic.Int32 }

func (f *fakeWaker) CheckAndPostOnWake(ctx context.Context) (wake.Result, error) {
	f.calls.Add(1)
	return wake.Result{Outcome: wake.OutcomeNotDue}, nil
}

// flakySink fails appends while failing is set.
type flakySink struct {
	storage.Store
	failing atomic.Bool
}

func (s *flakySink) AppendLog(ctx context.Context, e storage.LogEntry) (storage.LogEntry, error) {
	if s.failing.Load() {
		return storage.LogEntry{}, errors.New("db down")
	}
	return s.Store.AppendLog(ctx, e)
}

func update(id int, chatID int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":0,"from":{"id":7,"is_bot":false,"first_name":"U","username":"user"},"chat":{"id":%d,"type":"private"},"text":%q}}`, id, id, chatID, text)
}

func post(t *testing.T, h http.Handler, body string, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func logsOf(t *testing.T, st storage.LogSink) []storage.LogEntry {
	t.Helper()
	out, err := st.RecentLogs(context.Background(), 100)
	require.NoError(t, err)
	return out
}

func TestIngress_LogsAndReplies(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	lc := &fakeLifecycle{}
	wk := &fakeWaker{}
	m := metrics.New()
	in := New(Config{}, telegram.DecodeUpdate, st,
		WithReplier(CommandReplier{}, snd), WithLifecycle(lc), WithWaker(wk), WithMetrics(m))

	rec := post(t, in, update(1, 42, "/ping"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	logs := logsOf(t, st)
	require.Len(t, logs, 2)
	assert.Equal(t, storage.Outbound, logs[0].Direction)
	assert.Equal(t, "pong", logs[0].Message)
	assert.Equal(t, storage.Inbound, logs[1].Direction)
	assert.Equal(t, "/ping", logs[1].Message)

	assert.Equal(t, []transport.ChatTarget{{ChatID: 42}}, snd.to)
	assert.Equal(t, int32(1), lc.calls.Load())
	assert.Equal(t, int32(1), wk.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookCount("ok")))
}

func TestIngress_DropsWithoutSideEffects(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{}
	in := New(Config{MaxBody: 512}, telegram.DecodeUpdate, st, WithReplier(CommandReplier{}, snd))

	cases := map[string]string{
		"malformed": `{"update_id":`,
		"no text":   `{"update_id":5,"edited_message":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"},"text":"x"}}`,
		"too large": update(6, 1, strings.Repeat("x", 1024)),
	}
	for name, body := range cases {
		rec := post(t, in, body, "")
		assert.Equal(t, http.StatusOK, rec.Code, name)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String(), name)
	}
	assert.Empty(t, logsOf(t, st))
	assert.Empty(t, snd.sent)
}

func TestIngress_SecretToken(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	in := New(Config{Secret: "s3cret"}, telegram.DecodeUpdate, st)

	assert.Equal(t, http.StatusUnauthorized, post(t, in, update(1, 1, "hi"), "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, in, update(1, 1, "hi"), "wrong").Code)
	assert.Empty(t, logsOf(t, st))

	assert.Equal(t, http.StatusOK, post(t, in, update(1, 1, "hi"), "s3cret").Code)
	assert.Len(t, logsOf(t, st), 1)
}

func TestIngress_DuplicateDelivery(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	in := New(Config{}, telegram.DecodeUpdate, st)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(t, in, update(9, 1, "hello"), "").Code)
	}
	assert.Len(t, logsOf(t, st), 1)
}

func TestIngress_UpdatesWithoutIDAreNotDeduped(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	noID := func(body []byte) (transport.InboundMessage, bool, error) {
		return transport.InboundMessage{ChatID: 1, Text: string(body)}, true, nil
	}
	in := New(Config{}, noID, st)

	assert.Equal(t, http.StatusOK, post(t, in, "first", "").Code)
	assert.Equal(t, http.StatusOK, post(t, in, "second", "").Code)
	assert.Len(t, logsOf(t, st), 2)

	// The real decoder rejects them outright.
	tg := New(Config{}, telegram.DecodeUpdate, st)
	rec := post(t, tg, update(0, 1, "zero"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, logsOf(t, st), 2)
}

func TestIngress_StoreFailureAllowsRedelivery(t *testing.T) {
	t.Parallel()
	sink := &flakySink{Store: storage.NewMemory()}
	sink.failing.Store(true)
	in := New(Config{}, telegram.DecodeUpdate, sink)

	rec := post(t, in, update(3, 1, "hello"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")

	sink.failing.Store(false)
	assert.Equal(t, http.StatusOK, post(t, in, update(3, 1, "hello"), "").Code)
	assert.Len(t, logsOf(t, sink), 1)
}

func TestIngress_ReplyFailureStillAcknowledges(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	snd := &fakeSender{err: errors.New("forbidden: bot was blocked by the user")}
	in := New(Config{}, telegram.DecodeUpdate, st, WithReplier(CommandReplier{}, snd))

	assert.Equal(t, http.StatusOK, post(t, in, update(4, 1, "hello"), "").Code)
	logs := logsOf(t, st)
	require.Len(t, logs, 1)
	assert.Equal(t, storage.Inbound, logs[0].Direction)
}

func TestIngress_RejectsOtherMethods(t *testing.T) {
	t.Parallel()
	in := New(Config{}, telegram.DecodeUpdate, storage.NewMemory())
	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/telegram/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSeenCache(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	c := newSeenCache(time.Minute, 2, func() time.Time { return now })

	assert.False(t, c.CheckAndMark(1))
	assert.True(t, c.CheckAndMark(1))
	assert.False(t, c.CheckAndMark(2))
	assert.False(t, c.CheckAndMark(3), "evicts the oldest at capacity")
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.CheckAndMark(1))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.CheckAndMark(3), "expired entries are forgotten")

	c.Forget(3)
	assert.False(t, c.CheckAndMark(3))
}

func TestCommandReplier(t *testing.T) {
	t.Parallel()
	r := CommandReplier{}
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"/ping", "pong", true},
		{"/PING@wake_bot", "pong", true},
		{"/help", helpText, true},
		{"/start", "Hi! I'm awake and posting on schedule. Send /help for commands.", true},
		{"/nope", "Unknown command /nope. Send /help for commands.", true},
		{"hello", "You said: hello", true},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := r.Reply(context.Background(), transport.InboundMessage{Text: tt.in})
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, ok := CommandReplier{NoEcho: true}.Reply(context.Background(), transport.InboundMessage{Text: "hi"})
	assert.False(t, ok)
}
