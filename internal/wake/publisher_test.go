package wake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saddammed/Saddam48/internal/transport"
)

type recordingSender struct {
	to   []transport.ChatTarget
	text []string
	err  error
}

func (r *recordingSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if r.err != nil {
		return transport.MessageRef{}, r.err
	}
	r.to = append(r.to, to)
	r.text = append(r.text, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.text)}, nil
}

func TestChatPublisher_RotatesBySlot(t *testing.T) {
	t.Parallel()
	p := &ChatPublisher{Messages: []string{"a", " ", "b", "c"}}

	base := time.UnixMilli(0).UTC()
	assert.Equal(t, "a", p.Pick(base, time.Minute))
	assert.Equal(t, "a", p.Pick(base.Add(59*time.Second), time.Minute))
	assert.Equal(t, "b", p.Pick(base.Add(time.Minute), time.Minute))
	assert.Equal(t, "c", p.Pick(base.Add(2*time.Minute), time.Minute))
	assert.Equal(t, "a", p.Pick(base.Add(3*time.Minute), time.Minute))

	// Zero interval falls back to the hourly default.
	assert.Equal(t, "a", p.Pick(base.Add(59*time.Minute), 0))
	assert.Equal(t, "b", p.Pick(base.Add(time.Hour), 0))

	empty := &ChatPublisher{}
	assert.Equal(t, defaultMessage, empty.Pick(base, time.Minute))
}

func TestChatPublisher_Publish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snd := &recordingSender{}
	p := &ChatPublisher{Sender: snd, Target: transport.ChatTarget{ChatID: -1001}, Messages: []string{"hello"}}

	text, err := p.Publish(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, []transport.ChatTarget{{ChatID: -1001}}, snd.to)

	snd.err = errors.New("429")
	_, err = p.Publish(ctx, time.Now(), time.Hour)
	assert.Error(t, err)

	_, err = (&ChatPublisher{Sender: snd}).Publish(ctx, time.Now(), time.Hour)
	assert.Error(t, err)
}
