package synthesis

import (
	"context"
	"time"
)

// Clip is a playable synthesized audio handle. Immutable once returned by a
// synthesizer; playback bookkeeping lives in the output controller.
type Clip struct {
	ID         string
	Text       string
	Audio      []byte
	SampleRate int
	Channels   int
}

// Duration estimates clip playback time from PCM16 sample count.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	ch := c.Channels
	if ch <= 0 {
		ch = 1
	}
	samples := len(c.Audio) / (2 * ch)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Synthesizer defines the contract for any TTS vendor implementation.
// Synthesize failures are reported through resilience.QuotaError when the
// cause is an exhausted usage budget, anything else is a generation failure.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize converts text into a playable clip.
	Synthesize(ctx context.Context, text string) (*Clip, error)
	// Close releases vendor resources. Idempotent.
	Close() error
}

// Config contains vendor-agnostic synthesis configuration.
type Config struct {
	SessionID  string
	VoiceID    string
	ModelID    string
	SampleRate int
	Channels   int
}
