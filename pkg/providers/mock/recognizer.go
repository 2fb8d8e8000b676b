package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxloop/voxloop/pkg/adapters/recognition"
)

type RecognizerConfig struct {
	SessionID string
	// Interims are emitted in order before the final transcript when the
	// first audio arrives.
	Interims []string
	Final    string
	// EndWithoutFinal simulates a platform auto-timeout: the session ends
	// after the interims with no final transcript.
	EndWithoutFinal bool
	// FailStart makes Start return an error.
	FailStart bool
	// Unavailable emits EventUnavailable right after Start.
	Unavailable bool
}

// Recognizer is a scripted recognition session for tests and the local
// example. It emits its script on the first SendAudio call; tests can also
// drive it manually through the Push* methods.
type Recognizer struct {
	cfg     RecognizerConfig
	out     chan recognition.Result
	evs     chan recognition.SessionEvent
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	closed  bool
	emitted bool
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.Final == "" && !cfg.EndWithoutFinal {
		cfg.Final = "mock transcript"
	}
	return &Recognizer{
		cfg: cfg,
		out: make(chan recognition.Result, 16),
		evs: make(chan recognition.SessionEvent, 4),
	}
}

func (r *Recognizer) Name() string { return "mock_recognizer" }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.cfg.FailStart {
		return errors.New("mock start failure")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, r.cancel = context.WithCancel(ctx)
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	if r.cfg.Unavailable {
		r.evs <- recognition.EventUnavailable
	}
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.started = false
	if r.cancel != nil {
		r.cancel()
	}
	close(r.out)
	close(r.evs)
	return nil
}

func (r *Recognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("not started")
	}
	if r.emitted {
		r.mu.Unlock()
		return nil
	}
	r.emitted = true
	r.mu.Unlock()

	for _, interim := range r.cfg.Interims {
		r.out <- recognition.Result{Text: interim}
	}
	if r.cfg.EndWithoutFinal {
		r.evs <- recognition.EventEnded
		return nil
	}
	r.out <- recognition.Result{Text: r.cfg.Final, IsFinal: true}
	r.evs <- recognition.EventEnded
	return nil
}

func (r *Recognizer) Results() <-chan recognition.Result      { return r.out }
func (r *Recognizer) Events() <-chan recognition.SessionEvent { return r.evs }

// PushInterim delivers one interim transcript.
func (r *Recognizer) PushInterim(text string) {
	r.out <- recognition.Result{Text: text}
}

// PushFinal delivers the final transcript for the current utterance.
func (r *Recognizer) PushFinal(text string) {
	r.out <- recognition.Result{Text: text, IsFinal: true}
}

// PushEnded simulates the capture session ending underneath the controller.
func (r *Recognizer) PushEnded() {
	r.evs <- recognition.EventEnded
}

var _ recognition.Recognizer = (*Recognizer)(nil)
