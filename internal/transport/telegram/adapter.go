// Package telegram adapts the Bot API (via telebot) to wakebot's ports:
// transport.Sender for outbound text, plus identity lookup and webhook
// registration for the bot lifecycle.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Saddammed/Saddam48/internal/transport"
	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (tests, local bot-api servers).
	APIURL  string
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// New builds the adapter without touching the network; the first API call
// happens in Identify.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

// call runs a blocking telebot request and gives up when ctx ends. The
// request itself is bounded by the HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// Identify resolves the bot username with getMe.
func (a *Adapter) Identify(ctx context.Context) (string, error) {
	raw, err := call(ctx, func() ([]byte, error) { return a.bot.Raw("getMe", nil) })
	if err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("getMe: decode: %w", err)
	}
	if !resp.OK {
		return "", fmt.Errorf("getMe: %s", resp.Description)
	}
	return resp.Result.Username, nil
}

// RegisterWebhook points the platform at url. secret is echoed back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (a *Adapter) RegisterWebhook(ctx context.Context, url, secret string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, a.bot.SetWebhook(&tele.Webhook{
			Endpoint:       &tele.WebhookEndpoint{PublicURL: url},
			SecretToken:    secret,
			AllowedUpdates: []string{"message"},
		})
	})
	if err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	a.log.Info("webhook registered", logx.String("url", url))
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to.IsZero() {
		return transport.MessageRef{}, errors.New("telegram: empty chat target")
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunkText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		msg, err := call(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, sendOpt) })
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

const textLimit = 4000

// chunkText splits s into pieces of at most limit runes, cutting at a
// newline in the last two thirds of a window when there is one.
func chunkText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
