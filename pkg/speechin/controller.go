// Package speechin wraps continuous speech recognition into a transcript
// stream plus a final-utterance event for the turn-taking coordinator.
package speechin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/recognition"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/events"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/notify"
)

// Config tunes one input controller instance.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	// RestartCooldown is the window after an automatic capture restart
	// during which no further automatic restart is attempted.
	RestartCooldown time.Duration
}

// Controller owns the microphone side of the conversation. It never starts
// capture on its own; only coordinator commands (and the single bounded
// recovery restart) arm the recognizer.
type Controller struct {
	cfg      Config
	factory  recognition.Factory
	emitter  events.Emitter
	notifier notify.Notifier
	log      *slog.Logger

	mu             sync.Mutex
	epoch          uint64
	capturing      bool
	gotFinal       bool
	gen            int
	rec            recognition.Recognizer
	permission     recognition.Permission
	deniedNotified bool
	pendingCapture bool
	restartUsed    bool
}

func NewController(factory recognition.Factory, cfg Config, emitter events.Emitter, notifier notify.Notifier) *Controller {
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.NewSlogNotifier(nil)
	}
	return &Controller{
		cfg:      cfg,
		factory:  factory,
		emitter:  emitter,
		notifier: notifier,
		log:      logging.NewComponentLogger(slog.Default(), "speech_input"),
	}
}

// SetEpoch stamps subsequently emitted events with the session generation.
func (c *Controller) SetEpoch(epoch uint64) {
	c.mu.Lock()
	c.epoch = epoch
	c.mu.Unlock()
}

// IsCapturing reports whether the recognizer is armed.
func (c *Controller) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Permission returns the tracked microphone permission state.
func (c *Controller) Permission() recognition.Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// SetPermission records a permission transition. A transition to Denied
// surfaces a one-time non-blocking notice; a transition to Granted retries
// a pending capture request if one exists.
func (c *Controller) SetPermission(p recognition.Permission) {
	c.mu.Lock()
	prev := c.permission
	c.permission = p
	notifyDenied := p == recognition.PermissionDenied && !c.deniedNotified
	if notifyDenied {
		c.deniedNotified = true
	}
	retry := p == recognition.PermissionGranted && prev != recognition.PermissionGranted && c.pendingCapture
	if retry {
		// Claim the pending request under the lock so a concurrent stop
		// cannot race the retry.
		c.pendingCapture = false
	}
	epoch := c.epoch
	c.mu.Unlock()

	c.log.Info("mic_permission_changed",
		slog.String("session_id", c.cfg.SessionID),
		slog.String("from", prev.String()),
		slog.String("to", p.String()),
	)
	if notifyDenied {
		c.notifier.Notify(notify.KindWarning, "Microphone unavailable",
			"Microphone access was denied. You can keep chatting by typing.")
	}
	if c.emitter != nil {
		_ = c.emitter.Emit(events.NewPermissionChanged(epoch, p))
	}
	if retry {
		_ = c.StartCapture(context.Background())
	}
}

// StartCapture begins continuous recognition. No-op when already capturing.
// A missing recognition capability is logged, not returned, leaving text
// input as the sole channel.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil
	}
	if c.factory == nil {
		c.mu.Unlock()
		c.log.Warn("recognition_unavailable",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("fallback", "text_input"),
		)
		return nil
	}
	if c.permission == recognition.PermissionDenied {
		c.pendingCapture = true
		c.mu.Unlock()
		c.log.Info("capture_deferred_permission_denied",
			slog.String("session_id", c.cfg.SessionID))
		return nil
	}
	err := c.startLocked(ctx)
	c.mu.Unlock()
	return err
}

// startLocked arms a fresh recognizer. Caller holds c.mu.
func (c *Controller) startLocked(ctx context.Context) error {
	rec := c.factory(recognition.Config{
		SessionID:  c.cfg.SessionID,
		SampleRate: c.cfg.SampleRate,
		Language:   c.cfg.Language,
		Interim:    true,
	})
	if err := rec.Start(ctx); err != nil {
		c.log.Error("capture_start_failed",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("error", err.Error()),
		)
		return errorsx.Wrap(err, errorsx.ReasonRecognitionConnect)
	}
	c.rec = rec
	c.capturing = true
	c.gotFinal = false
	c.pendingCapture = false
	c.gen++
	go c.consume(rec, c.gen, c.epoch)
	c.log.Info("capture_started",
		slog.String("session_id", c.cfg.SessionID),
		slog.String("recognizer", rec.Name()),
	)
	return nil
}

// StopCapture stops recognition. Idempotent; safe when not capturing. The
// capturing flag flips synchronously even though recognizer teardown
// completes in the background.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	// A stop also cancels a request deferred on permission-denied, so a
	// later grant cannot re-arm the microphone.
	c.pendingCapture = false
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = false
	rec := c.rec
	c.rec = nil
	c.gen++
	c.mu.Unlock()

	if rec != nil {
		go func() { _ = rec.Close() }()
	}
	c.log.Info("capture_stopped", slog.String("session_id", c.cfg.SessionID))
}

// SendAudio forwards raw capture audio to the active recognizer.
func (c *Controller) SendAudio(pcm []byte) error {
	c.mu.Lock()
	rec := c.rec
	capturing := c.capturing
	c.mu.Unlock()
	if !capturing || rec == nil {
		return nil
	}
	return errorsx.Wrap(rec.SendAudio(pcm), errorsx.ReasonRecognitionSend)
}

// ResetRecovery re-arms the one-shot automatic restart for a new idle window.
func (c *Controller) ResetRecovery() {
	c.mu.Lock()
	c.restartUsed = false
	c.mu.Unlock()
}

func (c *Controller) consume(rec recognition.Recognizer, gen int, epoch uint64) {
	results := rec.Results()
	evs := rec.Events()
	for results != nil || evs != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if !c.current(gen) {
				continue
			}
			if res.IsFinal {
				c.mu.Lock()
				c.gotFinal = true
				c.mu.Unlock()
				// One final per utterance; the controller stops itself.
				c.StopCapture()
				if c.emitter != nil {
					_ = c.emitter.Emit(events.NewFinalTranscript(epoch, res.Text))
				}
			} else if c.emitter != nil {
				_ = c.emitter.Emit(events.NewInterimTranscript(epoch, res.Text))
			}
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			if !c.current(gen) {
				continue
			}
			switch ev {
			case recognition.EventUnavailable:
				c.log.Warn("recognition_became_unavailable",
					slog.String("session_id", c.cfg.SessionID))
				c.StopCapture()
				if c.emitter != nil {
					_ = c.emitter.Emit(events.NewCaptureEnded(epoch, false))
				}
			case recognition.EventEnded:
				c.onSessionEnded(gen, epoch)
			}
		}
	}
}

// onSessionEnded handles the recognizer stopping underneath us. If no final
// transcript was produced, at most one automatic restart is attempted per
// idle window; the one-shot flag resets after a cooldown so a persistent
// recognition failure cannot loop.
func (c *Controller) onSessionEnded(gen int, epoch uint64) {
	c.mu.Lock()
	if c.gen != gen || !c.capturing {
		c.mu.Unlock()
		return
	}
	unexpected := !c.gotFinal
	c.capturing = false
	c.rec = nil
	c.gen++
	canRestart := unexpected && !c.restartUsed
	if canRestart {
		c.restartUsed = true
		time.AfterFunc(c.cfg.RestartCooldown, c.ResetRecovery)
		err := c.startLocked(context.Background())
		c.mu.Unlock()
		if err == nil {
			c.log.Info("capture_auto_restarted",
				slog.String("session_id", c.cfg.SessionID))
			return
		}
	} else {
		c.mu.Unlock()
	}

	c.log.Info("capture_session_ended",
		slog.String("session_id", c.cfg.SessionID),
		slog.Bool("unexpected", unexpected),
	)
	if c.emitter != nil {
		_ = c.emitter.Emit(events.NewCaptureEnded(epoch, unexpected))
	}
}

func (c *Controller) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}
