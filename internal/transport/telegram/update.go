package telegram

import (
	"encoding/json"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/Saddammed/Saddam48/internal/transport"
)

// DecodeUpdate parses one webhook delivery. ok is false for well-formed
// updates that carry no text message (edits, joins, stickers...).
func DecodeUpdate(body []byte) (msg transport.InboundMessage, ok bool, err error) {
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return transport.InboundMessage{}, false, fmt.Errorf("decode update: %w", err)
	}
	if u.ID <= 0 {
		return transport.InboundMessage{}, false, fmt.Errorf("decode update: missing update_id")
	}
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return transport.InboundMessage{UpdateID: int64(u.ID)}, false, nil
	}
	out := transport.InboundMessage{
		UpdateID:  int64(u.ID),
		MessageID: m.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		Text:      m.Text,
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	return out, true, nil
}
