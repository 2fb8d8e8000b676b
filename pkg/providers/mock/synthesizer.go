package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/resilience"
)

type SynthesizerConfig struct {
	SampleRate int
	Channels   int
	// ClipBytes is the synthetic PCM payload size per clip.
	ClipBytes int
	// FailuresBeforeSuccess errors out the first N calls.
	FailuresBeforeSuccess int
	// QuotaExhausted makes every call fail with a quota error.
	QuotaExhausted bool
}

// Synthesizer produces deterministic silent clips for tests and the local
// example.
type Synthesizer struct {
	cfg    SynthesizerConfig
	mu     sync.Mutex
	calls  int
	closed bool
	Texts  []string
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.ClipBytes == 0 {
		cfg.ClipBytes = 640
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_synthesizer" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*synthesis.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("synthesizer closed")
	}
	s.calls++
	s.Texts = append(s.Texts, text)
	if s.cfg.QuotaExhausted {
		return nil, resilience.QuotaError{Provider: "mock", Message: "character quota exhausted"}
	}
	if s.calls <= s.cfg.FailuresBeforeSuccess {
		return nil, errors.New("mock generation failure")
	}
	return &synthesis.Clip{
		ID:         uuid.NewString(),
		Text:       text,
		Audio:      make([]byte, s.cfg.ClipBytes),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}, nil
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Calls returns how many synthesis requests were made.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ synthesis.Synthesizer = (*Synthesizer)(nil)
