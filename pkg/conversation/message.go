package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Message is one immutable conversation turn.
type Message struct {
	ID        string
	Text      string
	Sender    Sender
	CreatedAt time.Time
}

// NewMessage builds a message with a fresh ID. Returns ok=false when the
// text is empty after trimming; empty turns never enter the log.
func NewMessage(sender Sender, text string) (Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		CreatedAt: time.Now(),
	}, true
}
