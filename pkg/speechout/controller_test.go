package speechout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/events"
	"github.com/voxloop/voxloop/pkg/providers/mock"
)

type memorySink struct {
	mu      sync.Mutex
	frames  int
	bytes   int
	volumes []float64
}

func (s *memorySink) WriteAudio(clipID string, pcm []byte, sampleRate, channels int, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.bytes += len(pcm)
	s.volumes = append(s.volumes, volume)
	return nil
}

func (s *memorySink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *memorySink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

type captureEmitter struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}

func (c *captureEmitter) playbackEnds() []events.PlaybackEnded {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.PlaybackEnded
	for _, ev := range c.evs {
		if pe, ok := ev.(events.PlaybackEnded); ok {
			out = append(out, pe)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSynthesizeProducesClip(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{SampleRate: 16000, ClipBytes: 640})
	c := NewController(synth, &memorySink{}, &captureEmitter{})

	clip, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clip.Text != "hello" || len(clip.Audio) != 640 {
		t.Fatalf("unexpected clip: %+v", clip)
	}
	if c.IsGenerating() {
		t.Fatalf("generating flag stuck")
	}
}

func TestSynthesizeQuotaKeepsReason(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{QuotaExhausted: true})
	c := NewController(synth, &memorySink{}, &captureEmitter{})

	_, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected quota error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSynthesisQuota) {
		t.Fatalf("expected quota reason, got %s", errorsx.Reason(err))
	}
}

func TestQuotaCircuitFailsFastAfterThreshold(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{QuotaExhausted: true})
	c := NewController(synth, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Synthesize(context.Background(), "hello"); err == nil {
			t.Fatalf("expected quota error on call %d", i)
		}
	}
	// The breaker opened after two quota failures; the third never reached
	// the vendor but still reports quota.
	if synth.Calls() != 2 {
		t.Fatalf("expected 2 vendor calls, got %d", synth.Calls())
	}
	_, err := c.Synthesize(context.Background(), "hello")
	if !errorsx.HasReason(err, errorsx.ReasonSynthesisQuota) {
		t.Fatalf("expected quota reason from open circuit, got %v", err)
	}
}

func TestSynthesizeWithoutSynthesizer(t *testing.T) {
	c := NewController(nil, &memorySink{}, &captureEmitter{})
	_, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error without synthesizer")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSynthesisFailed) {
		t.Fatalf("expected failure reason, got %s", errorsx.Reason(err))
	}
}

func TestPlayDeliversAudioAndEndsOnce(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{SampleRate: 16000, ClipBytes: 1280})
	sink := &memorySink{}
	emitter := &captureEmitter{}
	c := NewController(synth, sink, emitter)
	c.SetEpoch(7)

	clip, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	c.Play(clip)
	if !c.IsPlaying() {
		t.Fatalf("expected playing")
	}

	waitFor(t, "playback end", func() bool { return len(emitter.playbackEnds()) == 1 })
	ends := emitter.playbackEnds()
	if ends[0].ClipID != clip.ID || ends[0].Epoch() != 7 {
		t.Fatalf("unexpected end event: %+v", ends[0])
	}
	if sink.Bytes() != len(clip.Audio) {
		t.Fatalf("expected %d bytes delivered, got %d", len(clip.Audio), sink.Bytes())
	}
	waitFor(t, "playing flag cleared", func() bool { return !c.IsPlaying() })

	// No second end event arrives later.
	time.Sleep(100 * time.Millisecond)
	if len(emitter.playbackEnds()) != 1 {
		t.Fatalf("playback end fired more than once")
	}
}

func TestStopEndsPlaybackExactlyOnce(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{SampleRate: 16000, ClipBytes: 320000})
	emitter := &captureEmitter{}
	c := NewController(synth, &memorySink{}, emitter)

	clip, err := c.Synthesize(context.Background(), "long speech")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	c.Play(clip)
	c.Stop()
	if c.IsPlaying() {
		t.Fatalf("playing flag set after stop")
	}
	c.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := len(emitter.playbackEnds()); got != 1 {
		t.Fatalf("expected exactly one end event, got %d", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{SampleRate: 16000, ClipBytes: 3200})
	sink := &memorySink{}
	emitter := &captureEmitter{}
	c := NewController(synth, sink, emitter)

	clip, err := c.Synthesize(context.Background(), "pausable")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	c.Play(clip)
	c.Pause()

	frames := sink.Frames()
	time.Sleep(100 * time.Millisecond)
	if sink.Frames() > frames+1 {
		t.Fatalf("frames kept flowing while paused")
	}

	c.Resume()
	waitFor(t, "playback end after resume", func() bool { return len(emitter.playbackEnds()) == 1 })
}

func TestNewSynthesisStopsActivePlayback(t *testing.T) {
	synth := mock.NewSynthesizer(mock.SynthesizerConfig{SampleRate: 16000, ClipBytes: 320000})
	emitter := &captureEmitter{}
	c := NewController(synth, &memorySink{}, emitter)

	clip, err := c.Synthesize(context.Background(), "first")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	c.Play(clip)

	if _, err := c.Synthesize(context.Background(), "second"); err != nil {
		t.Fatalf("second synthesize: %v", err)
	}
	if c.IsPlaying() {
		t.Fatalf("first playback still active")
	}
	if got := len(emitter.playbackEnds()); got != 1 {
		t.Fatalf("expected first playback to end, got %d events", got)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	c := NewController(nil, nil, nil)
	c.SetVolume(1.8)
	if c.Volume() != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", c.Volume())
	}
	c.SetVolume(-0.2)
	if c.Volume() != 0 {
		t.Fatalf("expected clamp to 0, got %v", c.Volume())
	}
}

func TestSynthesizeErrorIsNotQuota(t *testing.T) {
	synth := &failingSynth{err: errors.New("bad voice")}
	c := NewController(synth, nil, nil)
	_, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSynthesisFailed) {
		t.Fatalf("expected generic failure reason, got %s", errorsx.Reason(err))
	}
}

type failingSynth struct{ err error }

func (f *failingSynth) Name() string { return "failing" }
func (f *failingSynth) Close() error { return nil }
func (f *failingSynth) Synthesize(ctx context.Context, text string) (*synthesis.Clip, error) {
	return nil, f.err
}
