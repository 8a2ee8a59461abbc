package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saddammed/Saddam48/internal/transport"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls map[string][]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{calls: map[string][]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls[method] = append(f.calls[method], string(body))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"username":"wake_bot"}}`)
		case "setWebhook":
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		case "sendMessage":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"channel"}}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[method])
}

func (f *fakeAPI) body(method string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method][i]
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestAdapter_IdentifyRegisterSend(t *testing.T) {
	t.Parallel()
	api, srv := newFakeAPI(t)

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	require.NoError(t, err)
	assert.Zero(t, api.count("getMe"), "construction must not call the API")

	ctx := context.Background()
	name, err := a.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wake_bot", name)

	require.NoError(t, a.RegisterWebhook(ctx, "https://example.test/api/telegram/webhook", "s3cret"))
	require.Equal(t, 1, api.count("setWebhook"))
	assert.Contains(t, api.body("setWebhook", 0), "s3cret")

	ref, err := a.SendText(ctx, transport.ChatTarget{ChatID: -100}, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, ref.MessageID)
	assert.Equal(t, 1, api.count("sendMessage"))

	_, err = a.SendText(ctx, transport.ChatTarget{}, "nobody", nil)
	assert.Error(t, err)
}

func TestAdapter_IdentifyHonoursContext(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a, err := New(Config{Token: "1:x", APIURL: srv.URL, Timeout: 5 * time.Second}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Identify(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChunkText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"short"}, chunkText("short", 10))

	long := strings.Repeat("a", 25)
	parts := chunkText(long, 10)
	require.Len(t, parts, 3)
	assert.Equal(t, long, strings.Join(parts, ""))

	lines := strings.Repeat("abcdefg\n", 5)
	for _, p := range chunkText(lines, 20) {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 20)
		assert.False(t, strings.HasSuffix(p, "\n"))
	}

	multi := strings.Repeat("é", 15)
	for _, p := range chunkText(multi, 4) {
		assert.True(t, utf8.ValidString(p))
	}
}

func TestDecodeUpdate(t *testing.T) {
	t.Parallel()

	msg, ok, err := DecodeUpdate([]byte(`{"update_id":10,"message":{"message_id":3,"date":0,"from":{"id":5,"is_bot":false,"first_name":"A","username":"alice"},"chat":{"id":5,"type":"private"},"text":"/ping"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), msg.UpdateID)
	assert.Equal(t, "/ping", msg.Text)
	assert.Equal(t, "alice", msg.FromUsername)
	assert.Equal(t, transport.ChatTarget{ChatID: 5}, msg.Target())

	msg, ok, err = DecodeUpdate([]byte(`{"update_id":11,"edited_message":{"message_id":3,"date":0,"chat":{"id":5,"type":"private"},"text":"x"}}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(11), msg.UpdateID)

	_, _, err = DecodeUpdate([]byte(`not json`))
	assert.Error(t, err)
	_, _, err = DecodeUpdate([]byte(`{}`))
	assert.Error(t, err)
	_, _, err = DecodeUpdate([]byte(`{"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"},"text":"hi"}}`))
	assert.Error(t, err, "message without update_id")
}
