package recognition

import "context"

// Result is a single recognizer emission. Interim results replace each other;
// a final result closes the utterance.
type Result struct {
	Text    string
	IsFinal bool
}

// SessionEvent signals recognizer lifecycle changes outside of results.
type SessionEvent int

const (
	// EventEnded fires when the underlying capture session ends, whether
	// requested or not (platform timeout, connection drop).
	EventEnded SessionEvent = iota
	// EventUnavailable fires when the platform has no recognition capability.
	EventUnavailable
)

// Recognizer defines the contract for any continuous speech recognition
// vendor implementation.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start begins a continuous recognition session.
	Start(ctx context.Context) error
	// Close shuts down the recognition session. Idempotent.
	Close() error
	// SendAudio feeds raw capture audio to the recognizer.
	SendAudio(pcm []byte) error
	// Results returns a channel of interim and final transcripts.
	Results() <-chan Result
	// Events returns a channel of session lifecycle events.
	Events() <-chan SessionEvent
}

// Permission is the microphone access state.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "GRANTED"
	case PermissionDenied:
		return "DENIED"
	}
	return "UNKNOWN"
}

// Config contains vendor-agnostic recognition configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	Interim    bool
}

// Factory builds a fresh recognizer for one capture session.
type Factory func(cfg Config) Recognizer
