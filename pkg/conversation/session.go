package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle phase.
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

// MutePreferences are the user-controlled gates on the audio channels.
type MutePreferences struct {
	InputMuted  bool
	OutputMuted bool
	Volume      float64
}

// Session is the mutable conversation aggregate. The coordinator owns it
// exclusively; a restart creates a fresh Session sharing nothing mutable
// with the old one. The epoch stamps every async continuation so stale
// completions from a previous session are discarded on arrival.
type Session struct {
	ID    string
	Epoch uint64
	Log   *MessageLog

	mu     sync.Mutex
	status Status
	prefs  MutePreferences
	timers map[string]*time.Timer
}

func NewSession(epoch uint64) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Epoch:  epoch,
		Log:    NewMessageLog(),
		prefs:  MutePreferences{Volume: 1.0},
		timers: make(map[string]*time.Timer),
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) Prefs() MutePreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

func (s *Session) SetInputMuted(muted bool) {
	s.mu.Lock()
	s.prefs.InputMuted = muted
	s.mu.Unlock()
}

func (s *Session) SetOutputMuted(muted bool) {
	s.mu.Lock()
	s.prefs.OutputMuted = muted
	s.mu.Unlock()
}

// SetVolume clamps v into [0,1].
func (s *Session) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.prefs.Volume = v
	s.mu.Unlock()
}

// Schedule registers a named cancelable timer on the session. A second
// schedule under the same name replaces the first. Session teardown cancels
// every outstanding timer so a stale timer cannot revive a dead session.
func (s *Session) Schedule(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, fn)
}

// CancelTimer stops one named timer if present.
func (s *Session) CancelTimer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// CancelTimers stops every outstanding timer.
func (s *Session) CancelTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}
