// Package events defines the typed events consumed by the turn-taking
// coordinator. Every callback-shaped input (recognizer results, playback
// completion, timer expiry, user commands) is enqueued as one of these so
// all transition logic lives in a single loop instead of scattered across
// callback closures.
package events

import (
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/recognition"
	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
)

type Kind string

const (
	KindTextSubmitted     Kind = "command.text_submitted"
	KindMicToggled        Kind = "command.mic_toggled"
	KindOutputMuteToggled Kind = "command.output_mute_toggled"
	KindVolumeChanged     Kind = "command.volume_changed"
	KindRestartRequested  Kind = "command.restart_requested"
	KindEndRequested      Kind = "command.end_requested"

	KindInterimTranscript Kind = "capture.interim_transcript"
	KindFinalTranscript   Kind = "capture.final_transcript"
	KindCaptureEnded      Kind = "capture.ended"
	KindPermissionChanged Kind = "capture.permission_changed"

	KindReplyResolved     Kind = "reply.resolved"
	KindReplyFailed       Kind = "reply.failed"
	KindSynthesisResolved Kind = "synthesis.resolved"
	KindSynthesisFailed   Kind = "synthesis.failed"
	KindPlaybackEnded     Kind = "playback.ended"

	KindAutoListenElapsed Kind = "timer.auto_listen_elapsed"
)

// Event is a single unit of coordinator input. The epoch stamps which
// session generation produced it; the loop discards events whose epoch no
// longer matches the live session.
type Event interface {
	Kind() Kind
	Epoch() uint64
	At() time.Time
}

// Emitter enqueues events for the coordinator loop.
type Emitter interface {
	Emit(ev Event) error
}

// Base carries the fields shared by every event.
type Base struct {
	kind  Kind
	epoch uint64
	at    time.Time
}

func NewBase(kind Kind, epoch uint64) Base {
	return Base{kind: kind, epoch: epoch, at: time.Now()}
}

func (b Base) Kind() Kind    { return b.kind }
func (b Base) Epoch() uint64 { return b.epoch }
func (b Base) At() time.Time { return b.at }

// TextSubmitted carries a typed (or transcribed) user utterance.
type TextSubmitted struct {
	Base
	Text string
}

func NewTextSubmitted(epoch uint64, text string) TextSubmitted {
	return TextSubmitted{Base: NewBase(KindTextSubmitted, epoch), Text: text}
}

// MicToggled flips the microphone mute preference.
type MicToggled struct{ Base }

func NewMicToggled(epoch uint64) MicToggled {
	return MicToggled{Base: NewBase(KindMicToggled, epoch)}
}

// OutputMuteToggled flips the speaker mute preference.
type OutputMuteToggled struct{ Base }

func NewOutputMuteToggled(epoch uint64) OutputMuteToggled {
	return OutputMuteToggled{Base: NewBase(KindOutputMuteToggled, epoch)}
}

// VolumeChanged carries a new playback volume in [0,1].
type VolumeChanged struct {
	Base
	Volume float64
}

func NewVolumeChanged(epoch uint64, volume float64) VolumeChanged {
	return VolumeChanged{Base: NewBase(KindVolumeChanged, epoch), Volume: volume}
}

// RestartRequested asks for teardown plus re-initialization.
type RestartRequested struct{ Base }

func NewRestartRequested(epoch uint64) RestartRequested {
	return RestartRequested{Base: NewBase(KindRestartRequested, epoch)}
}

// EndRequested asks for terminal teardown.
type EndRequested struct{ Base }

func NewEndRequested(epoch uint64) EndRequested {
	return EndRequested{Base: NewBase(KindEndRequested, epoch)}
}

// InterimTranscript carries a provisional transcript. Each firing replaces
// the previous interim value; it is never appended to the log.
type InterimTranscript struct {
	Base
	Text string
}

func NewInterimTranscript(epoch uint64, text string) InterimTranscript {
	return InterimTranscript{Base: NewBase(KindInterimTranscript, epoch), Text: text}
}

// FinalTranscript carries the recognizer's confirmed text for an utterance.
type FinalTranscript struct {
	Base
	Text string
}

func NewFinalTranscript(epoch uint64, text string) FinalTranscript {
	return FinalTranscript{Base: NewBase(KindFinalTranscript, epoch), Text: text}
}

// CaptureEnded signals the capture session stopped. Unexpected is true when
// the controller still expected it to be active.
type CaptureEnded struct {
	Base
	Unexpected bool
}

func NewCaptureEnded(epoch uint64, unexpected bool) CaptureEnded {
	return CaptureEnded{Base: NewBase(KindCaptureEnded, epoch), Unexpected: unexpected}
}

// PermissionChanged carries a microphone permission transition.
type PermissionChanged struct {
	Base
	State recognition.Permission
}

func NewPermissionChanged(epoch uint64, state recognition.Permission) PermissionChanged {
	return PermissionChanged{Base: NewBase(KindPermissionChanged, epoch), State: state}
}

// ReplyResolved carries the assistant reply text.
type ReplyResolved struct {
	Base
	RequestID string
	Text      string
}

func NewReplyResolved(epoch uint64, requestID, text string) ReplyResolved {
	return ReplyResolved{Base: NewBase(KindReplyResolved, epoch), RequestID: requestID, Text: text}
}

// ReplyFailed carries a reply collaborator failure.
type ReplyFailed struct {
	Base
	RequestID string
	Err       error
}

func NewReplyFailed(epoch uint64, requestID string, err error) ReplyFailed {
	return ReplyFailed{Base: NewBase(KindReplyFailed, epoch), RequestID: requestID, Err: err}
}

// SynthesisResolved carries a freshly generated clip.
type SynthesisResolved struct {
	Base
	RequestID string
	Clip      *synthesis.Clip
}

func NewSynthesisResolved(epoch uint64, requestID string, clip *synthesis.Clip) SynthesisResolved {
	return SynthesisResolved{Base: NewBase(KindSynthesisResolved, epoch), RequestID: requestID, Clip: clip}
}

// SynthesisFailed carries a synthesis failure.
type SynthesisFailed struct {
	Base
	RequestID string
	Err       error
}

func NewSynthesisFailed(epoch uint64, requestID string, err error) SynthesisFailed {
	return SynthesisFailed{Base: NewBase(KindSynthesisFailed, epoch), RequestID: requestID, Err: err}
}

// PlaybackEnded fires exactly once per clip, whether playback finished
// naturally or was stopped early.
type PlaybackEnded struct {
	Base
	ClipID string
}

func NewPlaybackEnded(epoch uint64, clipID string) PlaybackEnded {
	return PlaybackEnded{Base: NewBase(KindPlaybackEnded, epoch), ClipID: clipID}
}

// AutoListenElapsed fires when the re-listen debounce delay expires.
type AutoListenElapsed struct{ Base }

func NewAutoListenElapsed(epoch uint64) AutoListenElapsed {
	return AutoListenElapsed{Base: NewBase(KindAutoListenElapsed, epoch)}
}
