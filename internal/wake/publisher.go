package wake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Saddammed/Saddam48/internal/transport"
)

const defaultMessage = "Scheduled update: the bot is awake and posting on schedule."

// ChatPublisher sends one of Messages to a chat. The message is picked by
// slot index (slot / interval) using the interval the scheduler posted
// under, so consecutive windows rotate through the list and every instance
// agrees on which one a window gets.
type ChatPublisher struct {
	Sender    transport.Sender
	Target    transport.ChatTarget
	Messages  []string
	ParseMode string
}

func (p *ChatPublisher) Publish(ctx context.Context, slot time.Time, interval time.Duration) (string, error) {
	if p == nil || p.Sender == nil {
		return "", errors.New("publisher has no sender")
	}
	if p.Target.IsZero() {
		return "", errors.New("publisher has no target chat")
	}
	text := p.Pick(slot, interval)
	if _, err := p.Sender.SendText(ctx, p.Target, text, &transport.SendOptions{ParseMode: p.ParseMode, DisablePreview: true}); err != nil {
		return "", err
	}
	return text, nil
}

// Pick returns the message for slot. An interval under 1ms means
// DefaultInterval.
func (p *ChatPublisher) Pick(slot time.Time, interval time.Duration) string {
	msgs := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		if strings.TrimSpace(m) != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return defaultMessage
	}
	step := interval
	if step < time.Millisecond {
		step = DefaultInterval
	}
	idx := slot.UnixMilli() / step.Milliseconds()
	if idx < 0 {
		idx = -idx
	}
	return msgs[idx%int64(len(msgs))]
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, slot time.Time, interval time.Duration) (string, error)

func (f PublisherFunc) Publish(ctx context.Context, slot time.Time, interval time.Duration) (string, error) {
	return f(ctx, slot, interval)
}
