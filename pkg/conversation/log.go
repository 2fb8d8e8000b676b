package conversation

import "sync"

// MessageLog is an append-only ordered sequence of messages. Order is
// insertion order; no business logic lives here.
type MessageLog struct {
	mu       sync.RWMutex
	messages []Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Append adds a message to the end of the log.
func (l *MessageLog) Append(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
}

// All returns a copy of the message sequence in insertion order.
func (l *MessageLog) All() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Clear drops all messages. Only lifecycle teardown calls this.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}
