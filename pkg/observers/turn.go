package observers

import (
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/turn"
)

// TurnObserver bridges coordinator state changes into metrics events and
// tracks per-state dwell time. One full user turn (listening start to
// playback end) is reported as turn_roundtrip.
type TurnObserver struct {
	mu        sync.Mutex
	obs       metrics.Observer
	enteredAt map[turn.State]time.Time
	heardAt   time.Time
}

func NewTurnObserver(obs metrics.Observer) *TurnObserver {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &TurnObserver{
		obs:       obs,
		enteredAt: make(map[turn.State]time.Time),
	}
}

func (o *TurnObserver) OnStateChange(ev turn.StateChange) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tags := map[string]string{
		"from":   ev.FromState.String(),
		"to":     ev.ToState.String(),
		"reason": ev.Reason,
	}
	fields := map[string]any{}
	if entered, ok := o.enteredAt[ev.FromState]; ok {
		fields["dwell_ms"] = ev.Timestamp.Sub(entered).Milliseconds()
		delete(o.enteredAt, ev.FromState)
	}
	o.enteredAt[ev.ToState] = ev.Timestamp

	switch {
	case ev.ToState == turn.StateAwaitingReply:
		o.heardAt = ev.Timestamp
	case ev.FromState == turn.StateSpeaking && !o.heardAt.IsZero():
		fields["roundtrip_ms"] = ev.Timestamp.Sub(o.heardAt).Milliseconds()
		o.heardAt = time.Time{}
	}

	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:   "turn_transition",
		Time:   ev.Timestamp,
		Tags:   tags,
		Fields: fields,
	})
}
