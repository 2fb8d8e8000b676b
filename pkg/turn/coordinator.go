// Package turn implements the conversation turn-taking coordinator: the
// state machine that arbitrates speech capture, reply fetching, speech
// synthesis and audio playback so at most one speaking party is active at a
// time. Every callback, timer and user command is enqueued as a typed event
// and applied by a single loop, so all transition logic lives in one place.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/pkg/adapters/reply"
	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/conversation"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/events"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/notify"
)

// Timer names registered on the session.
const (
	timerAutoListen = "auto_listen"
	timerRearm      = "rearm"
)

// InputController is the microphone side as seen by the coordinator.
type InputController interface {
	StartCapture(ctx context.Context) error
	StopCapture()
	SetEpoch(epoch uint64)
	IsCapturing() bool
	ResetRecovery()
}

// OutputController is the speaker side as seen by the coordinator.
type OutputController interface {
	Synthesize(ctx context.Context, text string) (*synthesis.Clip, error)
	Play(clip *synthesis.Clip)
	Stop()
	SetVolume(v float64)
	SetEpoch(epoch uint64)
	IsGenerating() bool
	IsPlaying() bool
}

// Config tunes one coordinator instance. The delays are empirically tuned
// debounce values, not derived from audio analysis; deployments should
// validate them against real playback-tail bleed.
type Config struct {
	WelcomeText      string
	RelistenDelay    time.Duration
	RearmDelay       time.Duration
	ReplyTimeout     time.Duration
	SynthesisTimeout time.Duration
	EventBuffer      int
}

func (c *Config) applyDefaults() {
	if c.WelcomeText == "" {
		c.WelcomeText = "Hi! How can I help you today?"
	}
	if c.RelistenDelay <= 0 {
		c.RelistenDelay = 700 * time.Millisecond
	}
	if c.RearmDelay <= 0 {
		c.RearmDelay = 350 * time.Millisecond
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 30 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 128
	}
}

// Coordinator owns the ConversationSession and issues every capture and
// playback command. The two controllers never start capture or playback on
// their own.
type Coordinator struct {
	cfg      Config
	in       InputController
	out      OutputController
	replier  reply.Replier
	notifier notify.Notifier
	log      *slog.Logger

	sm    *stateMachine
	epoch atomic.Uint64

	mu             sync.Mutex
	session        *conversation.Session
	interim        string
	quotaNotified  bool
	restarting     bool
	pendingReplyID string
	pendingSynthID string

	ctx     context.Context
	cancel  context.CancelFunc
	evch    chan events.Event
	done    chan struct{}
	stopped atomic.Bool
}

func NewCoordinator(cfg Config, in InputController, out OutputController, replier reply.Replier, notifier notify.Notifier) *Coordinator {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = notify.NewSlogNotifier(nil)
	}
	return &Coordinator{
		cfg:      cfg,
		in:       in,
		out:      out,
		replier:  replier,
		notifier: notifier,
		log:      logging.NewComponentLogger(slog.Default(), "coordinator"),
		sm:       newStateMachine(),
		evch:     make(chan events.Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
}

// Start initializes the session and launches the event loop.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.initialize("session initialized")
	go c.loop()
	return nil
}

// Emit enqueues an event for the loop. Never blocks the caller; overflow is
// dropped with a warning.
func (c *Coordinator) Emit(ev events.Event) error {
	if c.stopped.Load() {
		return nil
	}
	select {
	case c.evch <- ev:
		return nil
	default:
		c.log.Warn("event_dropped", slog.String("kind", string(ev.Kind())))
		return errors.New("event queue full")
	}
}

// AddListener registers a listener for turn state changes.
func (c *Coordinator) AddListener(l StateListener) { c.sm.AddListener(l) }

// State returns the current turn state.
func (c *Coordinator) State() State { return c.sm.State() }

// Messages returns the current session's transcript in insertion order.
func (c *Coordinator) Messages() []conversation.Message {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Log.All()
}

// Interim returns the latest provisional transcript (never logged).
func (c *Coordinator) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

// Session returns the owned session aggregate.
func (c *Coordinator) Session() *conversation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) IsListening() bool  { return c.in.IsCapturing() }
func (c *Coordinator) IsGenerating() bool { return c.out.IsGenerating() }
func (c *Coordinator) IsPlaying() bool    { return c.out.IsPlaying() }

// Imperative entry points exposed to the host. Each enqueues a command
// event stamped with the current epoch.

func (c *Coordinator) SubmitText(text string) {
	_ = c.Emit(events.NewTextSubmitted(c.epoch.Load(), text))
}

func (c *Coordinator) ToggleMic() {
	_ = c.Emit(events.NewMicToggled(c.epoch.Load()))
}

func (c *Coordinator) ToggleOutputMute() {
	_ = c.Emit(events.NewOutputMuteToggled(c.epoch.Load()))
}

func (c *Coordinator) SetVolume(v float64) {
	_ = c.Emit(events.NewVolumeChanged(c.epoch.Load(), v))
}

func (c *Coordinator) Restart() {
	_ = c.Emit(events.NewRestartRequested(c.epoch.Load()))
}

func (c *Coordinator) End() {
	_ = c.Emit(events.NewEndRequested(c.epoch.Load()))
}

// Done is closed when the session has ended.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.end("context canceled")
			return
		case ev := <-c.evch:
			if _, isEnd := ev.(events.EndRequested); !isEnd && ev.Epoch() != c.epoch.Load() {
				// A completion from a torn-down session generation; the
				// state on resume no longer matches the state at suspension.
				c.log.Debug("stale_event_discarded",
					slog.String("kind", string(ev.Kind())),
					slog.Uint64("event_epoch", ev.Epoch()),
					slog.Uint64("current_epoch", c.epoch.Load()),
				)
				continue
			}
			if c.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event. Returns true when the loop must exit.
func (c *Coordinator) handle(ev events.Event) bool {
	switch e := ev.(type) {
	case events.TextSubmitted:
		c.submitUtterance(e.Text, "text submitted")
	case events.FinalTranscript:
		c.submitUtterance(e.Text, "final transcript")
	case events.InterimTranscript:
		c.mu.Lock()
		c.interim = e.Text
		c.mu.Unlock()
	case events.CaptureEnded:
		// Bounded recovery already ran in the input controller; a session
		// that still ends here stays in listening intent without capture.
		if e.Unexpected {
			c.log.Warn("capture_ended_without_final")
		}
	case events.PermissionChanged:
		c.log.Info("permission_state", slog.String("state", e.State.String()))
	case events.ReplyResolved:
		c.onReplyResolved(e)
	case events.ReplyFailed:
		c.onReplyFailed(e)
	case events.SynthesisResolved:
		c.onSynthesisResolved(e)
	case events.SynthesisFailed:
		c.onSynthesisFailed(e)
	case events.PlaybackEnded:
		c.onPlaybackEnded(e)
	case events.AutoListenElapsed:
		c.onAutoListenElapsed()
	case events.MicToggled:
		c.onMicToggled()
	case events.OutputMuteToggled:
		c.onOutputMuteToggled()
	case events.VolumeChanged:
		c.onVolumeChanged(e.Volume)
	case events.RestartRequested:
		c.restart()
	case events.EndRequested:
		c.end("end requested")
		return true
	}
	return false
}

// initialize creates a fresh session, emits the welcome message and starts
// the first turn. Prior mute preferences carry over by value on restart.
func (c *Coordinator) initialize(reason string) {
	epoch := c.epoch.Add(1)
	session := conversation.NewSession(epoch)

	c.mu.Lock()
	if prev := c.session; prev != nil {
		prefs := prev.Prefs()
		session.SetInputMuted(prefs.InputMuted)
		session.SetOutputMuted(prefs.OutputMuted)
		session.SetVolume(prefs.Volume)
	}
	c.session = session
	c.interim = ""
	c.quotaNotified = false
	c.pendingReplyID = ""
	c.pendingSynthID = ""
	c.mu.Unlock()

	session.SetStatus(conversation.StatusActive)
	c.in.SetEpoch(epoch)
	c.out.SetEpoch(epoch)

	c.log.Info("session_initialized",
		slog.String("session_id", session.ID),
		slog.Uint64("epoch", epoch),
		slog.String("reason", reason),
	)

	if welcome, ok := conversation.NewMessage(conversation.SenderAssistant, c.cfg.WelcomeText); ok {
		session.Log.Append(welcome)
		if !session.Prefs().OutputMuted {
			c.startSynthesis(welcome.Text, "welcome")
			return
		}
	}
	c.scheduleAutoListen("welcome without audio")
}

// submitUtterance is the single entry point for both typed text and final
// transcripts. The interim buffer is discarded, never logged.
func (c *Coordinator) submitUtterance(text, reason string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	switch c.sm.State() {
	case StateIdle, StateListening:
	case StateSpeaking:
		// Submitting during playback interrupts the assistant.
		c.out.Stop()
	default:
		// One reply in flight at a time.
		c.log.Debug("utterance_ignored",
			slog.String("state", c.sm.State().String()))
		return
	}

	session := c.Session()
	if session == nil || session.Status() != conversation.StatusActive {
		return
	}
	session.CancelTimer(timerAutoListen)
	session.CancelTimer(timerRearm)
	c.in.StopCapture()

	c.mu.Lock()
	c.interim = ""
	c.mu.Unlock()

	msg, ok := conversation.NewMessage(conversation.SenderUser, text)
	if !ok {
		return
	}
	session.Log.Append(msg)
	if err := c.sm.Transition(StateAwaitingReply, reason); err != nil {
		c.log.Error("transition_failed", slog.String("error", err.Error()))
		return
	}

	requestID := uuid.NewString()
	c.mu.Lock()
	c.pendingReplyID = requestID
	c.mu.Unlock()

	history := historyFromLog(session.Log.All())
	epoch := c.epoch.Load()
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ReplyTimeout)
		defer cancel()
		answer, err := c.replier.GetReply(ctx, text, history)
		if err != nil {
			_ = c.Emit(events.NewReplyFailed(epoch, requestID, err))
			return
		}
		_ = c.Emit(events.NewReplyResolved(epoch, requestID, answer))
	}()
}

func (c *Coordinator) onReplyResolved(e events.ReplyResolved) {
	if !c.claimReply(e.RequestID) || c.sm.State() != StateAwaitingReply {
		return
	}
	session := c.Session()
	msg, ok := conversation.NewMessage(conversation.SenderAssistant, e.Text)
	if !ok {
		c.scheduleAutoListen("empty reply")
		return
	}
	session.Log.Append(msg)

	if session.Prefs().OutputMuted {
		// Output channel is muted; bypass synthesis and playback entirely.
		c.scheduleAutoListen("reply with output muted")
		return
	}
	c.startSynthesis(msg.Text, "reply resolved")
}

func (c *Coordinator) onReplyFailed(e events.ReplyFailed) {
	if !c.claimReply(e.RequestID) || c.sm.State() != StateAwaitingReply {
		return
	}
	session := c.Session()
	var upstream reply.UpstreamError
	text := "I couldn't reach the assistant. Please try again."
	if errors.As(e.Err, &upstream) {
		text = "The assistant ran into a problem answering. Please try again."
	}
	c.log.Error("reply_failed",
		slog.String("error", e.Err.Error()),
		slog.String("reason", string(errorsx.Reason(e.Err))),
	)
	if msg, ok := conversation.NewMessage(conversation.SenderSystem, text); ok {
		session.Log.Append(msg)
	}
	c.scheduleAutoListen("reply failed")
}

// startSynthesis transitions to Synthesizing and requests a clip. A newer
// request supersedes an older pending one; the loop ignores completions
// whose request ID is no longer current.
func (c *Coordinator) startSynthesis(text, reason string) {
	if err := c.sm.Transition(StateSynthesizing, reason); err != nil {
		c.log.Error("transition_failed", slog.String("error", err.Error()))
		c.scheduleAutoListen("synthesis not reachable")
		return
	}
	requestID := uuid.NewString()
	c.mu.Lock()
	c.pendingSynthID = requestID
	c.mu.Unlock()

	epoch := c.epoch.Load()
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SynthesisTimeout)
		defer cancel()
		clip, err := c.out.Synthesize(ctx, text)
		if err != nil {
			_ = c.Emit(events.NewSynthesisFailed(epoch, requestID, err))
			return
		}
		_ = c.Emit(events.NewSynthesisResolved(epoch, requestID, clip))
	}()
}

func (c *Coordinator) onSynthesisResolved(e events.SynthesisResolved) {
	if !c.claimSynth(e.RequestID) || c.sm.State() != StateSynthesizing {
		return
	}
	session := c.Session()
	if session.Prefs().OutputMuted {
		// Muted while generating; drop the clip and resume listening.
		c.scheduleAutoListen("muted during synthesis")
		return
	}
	if err := c.sm.Transition(StateSpeaking, "synthesis resolved"); err != nil {
		c.log.Error("transition_failed", slog.String("error", err.Error()))
		return
	}
	c.out.SetVolume(session.Prefs().Volume)
	c.out.Play(e.Clip)
}

func (c *Coordinator) onSynthesisFailed(e events.SynthesisFailed) {
	if !c.claimSynth(e.RequestID) || c.sm.State() != StateSynthesizing {
		return
	}
	session := c.Session()
	quota := errorsx.HasReason(e.Err, errorsx.ReasonSynthesisQuota)
	c.log.Error("synthesis_failed",
		slog.String("error", e.Err.Error()),
		slog.Bool("quota", quota),
	)
	if quota {
		// Quota exhaustion recurs for the rest of the session; notify the
		// user once, record every occurrence inline.
		c.mu.Lock()
		notified := c.quotaNotified
		c.quotaNotified = true
		c.mu.Unlock()
		if !notified {
			c.notifier.Notify(notify.KindWarning, "Voice unavailable",
				"The speech quota is exhausted. Replies will be text-only for now.")
		}
		if msg, ok := conversation.NewMessage(conversation.SenderAssistant,
			"(voice unavailable: speech quota exhausted)"); ok {
			session.Log.Append(msg)
		}
	} else {
		c.notifier.Notify(notify.KindError, "Voice unavailable",
			"Speech generation failed. The reply is shown as text.")
		if msg, ok := conversation.NewMessage(conversation.SenderAssistant,
			"(voice unavailable: speech generation failed)"); ok {
			session.Log.Append(msg)
		}
	}
	c.scheduleAutoListen("synthesis failed")
}

func (c *Coordinator) onPlaybackEnded(e events.PlaybackEnded) {
	if c.sm.State() != StateSpeaking {
		return
	}
	c.scheduleAutoListen("playback ended")
}

// scheduleAutoListen transitions to Listening and arms capture after the
// debounce delay. The delay keeps the microphone from hearing the tail of
// the assistant's own voice.
func (c *Coordinator) scheduleAutoListen(reason string) {
	if err := c.sm.Transition(StateListening, reason); err != nil {
		c.log.Error("transition_failed", slog.String("error", err.Error()))
		return
	}
	session := c.Session()
	if session == nil {
		return
	}
	epoch := c.epoch.Load()
	session.Schedule(timerAutoListen, c.cfg.RelistenDelay, func() {
		_ = c.Emit(events.NewAutoListenElapsed(epoch))
	})
}

func (c *Coordinator) onAutoListenElapsed() {
	if c.sm.State() != StateListening {
		return
	}
	session := c.Session()
	if session == nil || session.Status() != conversation.StatusActive {
		return
	}
	if session.Prefs().InputMuted {
		// Stay in listening intent; capture arms when the mic is unmuted.
		return
	}
	c.in.ResetRecovery()
	if err := c.in.StartCapture(c.ctx); err != nil {
		c.log.Warn("capture_rearm_failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) onMicToggled() {
	session := c.Session()
	if session == nil {
		return
	}
	muted := !session.Prefs().InputMuted
	session.SetInputMuted(muted)
	c.log.Info("mic_muted", slog.Bool("muted", muted))

	if muted {
		// Flag only; the FSM position is unchanged.
		session.CancelTimer(timerRearm)
		c.in.StopCapture()
		return
	}
	prefs := session.Prefs()
	switch c.sm.State() {
	case StateSpeaking, StateSynthesizing, StateAwaitingReply:
		// Capture re-arms when the output side falls silent.
		return
	default:
		if prefs.OutputMuted {
			return
		}
		if err := c.sm.Transition(StateListening, "mic unmuted"); err != nil {
			return
		}
		epoch := c.epoch.Load()
		session.Schedule(timerRearm, c.cfg.RearmDelay, func() {
			_ = c.Emit(events.NewAutoListenElapsed(epoch))
		})
	}
}

func (c *Coordinator) onOutputMuteToggled() {
	session := c.Session()
	if session == nil {
		return
	}
	muted := !session.Prefs().OutputMuted
	session.SetOutputMuted(muted)
	c.log.Info("output_muted", slog.Bool("muted", muted))

	if muted && c.sm.State() == StateSpeaking {
		// User interrupt: cut playback immediately.
		c.out.Stop()
		if session.Prefs().InputMuted {
			_ = c.sm.Transition(StateIdle, "playback interrupted, mic muted")
			return
		}
		c.scheduleAutoListen("playback interrupted")
	}
}

func (c *Coordinator) onVolumeChanged(v float64) {
	session := c.Session()
	if session == nil {
		return
	}
	session.SetVolume(v)
	c.out.SetVolume(session.Prefs().Volume)
}

// restart tears the session down in the fixed order and re-runs
// initialization. A restart already in progress ignores a second trigger:
// the second event carries the pre-restart epoch and is discarded as stale.
func (c *Coordinator) restart() {
	c.mu.Lock()
	if c.restarting {
		c.mu.Unlock()
		return
	}
	c.restarting = true
	c.mu.Unlock()

	c.teardown(true)
	_ = c.sm.Transition(StateIdle, "restart")
	c.initialize("session restarted")

	c.mu.Lock()
	c.restarting = false
	c.mu.Unlock()
}

func (c *Coordinator) end(reason string) {
	if c.stopped.Swap(true) {
		return
	}
	c.teardown(false)
	_ = c.sm.Transition(StateEnded, reason)
	c.log.Info("session_ended", slog.String("reason", reason))
	c.cancel()
	close(c.done)
}

// teardown runs the fixed shutdown order: stop capture, stop playback,
// cancel timers, clear the log when restarting, mark the session ended.
// Bumping the epoch strands every in-flight continuation.
func (c *Coordinator) teardown(restarting bool) {
	session := c.Session()
	c.in.StopCapture()
	c.out.Stop()
	if session != nil {
		session.CancelTimers()
		if restarting {
			session.Log.Clear()
		}
		session.SetStatus(conversation.StatusEnded)
	}
	c.mu.Lock()
	c.pendingReplyID = ""
	c.pendingSynthID = ""
	c.interim = ""
	c.mu.Unlock()
	c.epoch.Add(1)
}

// claimReply consumes the pending reply request ID; a mismatch means the
// completion was superseded.
func (c *Coordinator) claimReply(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingReplyID != requestID {
		return false
	}
	c.pendingReplyID = ""
	return true
}

func (c *Coordinator) claimSynth(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingSynthID != requestID {
		return false
	}
	c.pendingSynthID = ""
	return true
}

func historyFromLog(messages []conversation.Message) []reply.Turn {
	out := make([]reply.Turn, 0, len(messages))
	for _, m := range messages {
		out = append(out, reply.Turn{Role: string(m.Sender), Text: m.Text})
	}
	return out
}
