package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/adapters/reply"
)

type ReplierConfig struct {
	// Replies are returned in order; the last one repeats.
	Replies []string
	// Err fails every call when set.
	Err error
	// Block keeps GetReply pending until the context is canceled when set;
	// used to test stale-response discard.
	Block bool
}

// Replier is a scripted reply collaborator.
type Replier struct {
	cfg   ReplierConfig
	mu    sync.Mutex
	calls int
	Asked []string
}

func NewReplier(cfg ReplierConfig) *Replier {
	if len(cfg.Replies) == 0 && cfg.Err == nil && !cfg.Block {
		cfg.Replies = []string{"mock reply"}
	}
	return &Replier{cfg: cfg}
}

func (r *Replier) Name() string { return "mock_replier" }

func (r *Replier) GetReply(ctx context.Context, text string, history []reply.Turn) (string, error) {
	r.mu.Lock()
	r.calls++
	idx := r.calls - 1
	r.Asked = append(r.Asked, text)
	r.mu.Unlock()

	if r.cfg.Block {
		<-ctx.Done()
		return "", reply.NetworkError{Err: ctx.Err()}
	}
	if r.cfg.Err != nil {
		return "", r.cfg.Err
	}
	if idx >= len(r.cfg.Replies) {
		idx = len(r.cfg.Replies) - 1
	}
	return r.cfg.Replies[idx], nil
}

// Calls returns how many reply requests were made.
func (r *Replier) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var _ reply.Replier = (*Replier)(nil)
