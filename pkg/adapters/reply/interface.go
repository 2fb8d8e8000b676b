package reply

import (
	"context"
	"fmt"
)

// Turn is one prior exchange passed to the replier as history.
type Turn struct {
	Role string
	Text string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Replier produces the assistant's reply for a finalized user utterance.
// The reply content is opaque to the caller.
type Replier interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// GetReply resolves the assistant reply for text given the conversation
	// history. Fails with NetworkError or UpstreamError.
	GetReply(ctx context.Context, text string, history []Turn) (string, error)
}

// NetworkError indicates the replier could not be reached at all.
type NetworkError struct {
	Err error
}

func (e NetworkError) Error() string {
	if e.Err != nil {
		return "reply network failure: " + e.Err.Error()
	}
	return "reply network failure"
}

func (e NetworkError) Unwrap() error { return e.Err }

// UpstreamError indicates the replier answered with a failure status.
type UpstreamError struct {
	Status  int
	Message string
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("reply upstream failure: status %d: %s", e.Status, e.Message)
}
