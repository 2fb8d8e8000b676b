// Package speechout wraps text-to-speech synthesis and audio playback into
// generate/play/pause/stop operations with observable status for the
// turn-taking coordinator.
package speechout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/events"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/resilience"
)

// AudioSink receives paced playback audio. The gateway's websocket writer is
// the production sink; tests use an in-memory one.
type AudioSink interface {
	WriteAudio(clipID string, pcm []byte, sampleRate, channels int, volume float64) error
}

// frameInterval is the pacing step for pushing clip audio to the sink.
const frameInterval = 20 * time.Millisecond

type playback struct {
	clip   *synthesis.Clip
	stop   chan struct{}
	pause  chan struct{}
	resume chan struct{}
	once   sync.Once
}

// Controller owns the speaker side of the conversation. Exactly one clip is
// current at a time; starting a new synthesis stops the active playback
// first so audio never overlaps.
type Controller struct {
	synth   synthesis.Synthesizer
	sink    AudioSink
	emitter events.Emitter
	breaker *resilience.CircuitBreaker
	log     *slog.Logger

	mu         sync.Mutex
	epoch      uint64
	volume     float64
	generating bool
	playing    bool
	paused     bool
	current    *playback
}

func NewController(synth synthesis.Synthesizer, sink AudioSink, emitter events.Emitter) *Controller {
	return &Controller{
		synth:   synth,
		sink:    sink,
		emitter: emitter,
		breaker: resilience.NewCircuitBreaker(2, 30*time.Second),
		volume:  1.0,
		log:     logging.NewComponentLogger(slog.Default(), "speech_output"),
	}
}

// SetEpoch stamps subsequently emitted events with the session generation.
func (c *Controller) SetEpoch(epoch uint64) {
	c.mu.Lock()
	c.epoch = epoch
	c.mu.Unlock()
}

func (c *Controller) IsGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// SetVolume clamps v into [0,1] and applies it to subsequent frames.
func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Synthesize converts text into a playable clip. Any active playback is
// stopped before the new handle is returned. Quota failures keep their
// resilience.QuotaError identity for the caller to classify.
func (c *Controller) Synthesize(ctx context.Context, text string) (*synthesis.Clip, error) {
	if c.synth == nil {
		return nil, errorsx.Wrap(errNoSynthesizer, errorsx.ReasonSynthesisFailed)
	}
	if !c.breaker.Allow() {
		// Repeated quota failures; fail fast instead of re-dialing the vendor.
		return nil, errorsx.Wrap(resilience.QuotaError{Provider: c.synth.Name(), Message: "quota circuit open"},
			errorsx.ReasonSynthesisQuota)
	}
	c.Stop()

	c.mu.Lock()
	c.generating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
	}()

	clip, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		c.breaker.OnError(err)
		if resilience.IsQuota(err) {
			return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisQuota)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	c.breaker.OnSuccess()
	c.log.Debug("clip_generated",
		slog.String("clip_id", clip.ID),
		slog.Int("bytes", len(clip.Audio)),
		slog.Duration("duration", clip.Duration()),
	)
	return clip, nil
}

// Play begins paced playback of a clip. The playback-end event fires exactly
// once per clip, whether it ends naturally or is stopped early.
func (c *Controller) Play(clip *synthesis.Clip) {
	if clip == nil {
		return
	}
	c.Stop()

	pb := &playback{
		clip:   clip,
		stop:   make(chan struct{}),
		pause:  make(chan struct{}, 1),
		resume: make(chan struct{}, 1),
	}
	c.mu.Lock()
	c.current = pb
	c.playing = true
	c.paused = false
	epoch := c.epoch
	c.mu.Unlock()

	go c.pace(pb, epoch)
}

// Pause suspends frame delivery without releasing the current clip.
func (c *Controller) Pause() {
	c.mu.Lock()
	pb := c.current
	already := c.paused
	if pb != nil && !already {
		c.paused = true
	}
	c.mu.Unlock()
	if pb != nil && !already {
		select {
		case pb.pause <- struct{}{}:
		default:
		}
	}
}

// Resume continues a paused playback.
func (c *Controller) Resume() {
	c.mu.Lock()
	pb := c.current
	wasPaused := c.paused
	c.paused = false
	c.mu.Unlock()
	if pb != nil && wasPaused {
		select {
		case pb.resume <- struct{}{}:
		default:
		}
	}
}

// Stop halts playback immediately. The playing flag flips synchronously;
// the pacing goroutine drains in the background. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	pb := c.current
	c.current = nil
	c.playing = false
	c.paused = false
	epoch := c.epoch
	c.mu.Unlock()
	if pb == nil {
		return
	}
	close(pb.stop)
	c.finish(pb, epoch)
}

// finish fires the end event for a playback exactly once.
func (c *Controller) finish(pb *playback, epoch uint64) {
	pb.once.Do(func() {
		c.mu.Lock()
		if c.current == pb {
			c.current = nil
			c.playing = false
			c.paused = false
		}
		c.mu.Unlock()
		if c.emitter != nil {
			_ = c.emitter.Emit(events.NewPlaybackEnded(epoch, pb.clip.ID))
		}
	})
}

func (c *Controller) pace(pb *playback, epoch uint64) {
	clip := pb.clip
	ch := clip.Channels
	if ch <= 0 {
		ch = 1
	}
	rate := clip.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	step := rate * ch * 2 / int(time.Second/frameInterval)
	if step <= 0 {
		step = len(clip.Audio)
	}

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for off := 0; off < len(clip.Audio); {
		select {
		case <-pb.stop:
			return
		case <-pb.pause:
			select {
			case <-pb.stop:
				return
			case <-pb.resume:
			}
		case <-ticker.C:
			end := off + step
			if end > len(clip.Audio) {
				end = len(clip.Audio)
			}
			if c.sink != nil {
				if err := c.sink.WriteAudio(clip.ID, clip.Audio[off:end], rate, ch, c.Volume()); err != nil {
					c.log.Warn("sink_write_failed",
						slog.String("clip_id", clip.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			off = end
		}
	}
	c.finish(pb, epoch)
}

var errNoSynthesizer = errors.New("no synthesizer configured")
