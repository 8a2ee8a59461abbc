package webhook

import (
	"context"
	"strings"

	"github.com/Saddammed/Saddam48/internal/transport"
)

// Replier produces an optional reply to an inbound message.
type Replier interface {
	Reply(ctx context.Context, msg transport.InboundMessage) (text string, ok bool)
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, msg transport.InboundMessage) (string, bool)

func (f ReplierFunc) Reply(ctx context.Context, msg transport.InboundMessage) (string, bool) {
	return f(ctx, msg)
}

// CommandReplier answers /start, /help and /ping, and echoes anything else.
type CommandReplier struct {
	// Greeting overrides the /start text.
	Greeting string
	// NoEcho disables echoing plain text.
	NoEcho bool
}

const helpText = "Commands:\n/start - greeting\n/help - this list\n/ping - liveness check\nAnything else is echoed back."

func (r CommandReplier) Reply(_ context.Context, msg transport.InboundMessage) (string, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", false
	}
	if cmd, ok := command(text); ok {
		switch cmd {
		case "start":
			if r.Greeting != "" {
				return r.Greeting, true
			}
			return "Hi! I'm awake and posting on schedule. Send /help for commands.", true
		case "help":
			return helpText, true
		case "ping":
			return "pong", true
		default:
			return "Unknown command /" + cmd + ". Send /help for commands.", true
		}
	}
	if r.NoEcho {
		return "", false
	}
	return "You said: " + text, true
}

// command extracts the command name from "/cmd@botname args".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", false
	}
	return strings.ToLower(head), true
}
