// Package voxloop assembles the conversation engine: configuration, provider
// registry and the wiring between the coordinator, the two speech controllers
// and the observers.
package voxloop

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/pkg/events"
	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/notify"
	"github.com/voxloop/voxloop/pkg/observers"
	"github.com/voxloop/voxloop/pkg/runner"
	"github.com/voxloop/voxloop/pkg/speechin"
	"github.com/voxloop/voxloop/pkg/speechout"
	"github.com/voxloop/voxloop/pkg/turn"
)

type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	coord     *turn.Coordinator
	input     *speechin.Controller
	output    *speechout.Controller
	asyncObs  *metrics.AsyncObserver
	memObs    *metrics.MemoryObserver
	runner    *runner.LifecycleRunner
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Sink receives paced playback audio; nil means audio is generated but
	// discarded (text-only hosts).
	Sink speechout.AudioSink
	// Notifier surfaces user-facing notices; nil falls back to slog.
	Notifier notify.Notifier
	// Extra metrics observers appended after the built-in logger observer.
	Observers []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("voxloop_init",
		"environment", cfg.Environment,
		"recognition_provider", cfg.Vendors.Recognition.Provider,
		"synthesis_provider", cfg.Vendors.Synthesis.Provider,
		"reply_provider", cfg.Vendors.Reply.Provider,
	)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	recFactory, err := providers.BuildRecognitionFactory(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := providers.BuildSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	replier, err := providers.BuildReplier(cfg)
	if err != nil {
		return nil, err
	}

	memObs := metrics.NewMemoryObserver()
	obsList := []metrics.Observer{observers.NewLoggerObserver(slog.Default()), memObs}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	// Notices always land in the logs; a UI notifier is fanned in on top.
	notifier := notify.Notifier(notify.NewSlogNotifier(slog.Default()))
	if opts.Notifier != nil {
		notifier = notify.NewMultiNotifier(opts.Notifier, notifier)
	}

	// The controllers emit into the coordinator's loop; the relay breaks the
	// construction cycle between them.
	relay := &emitterRelay{}

	input := speechin.NewController(recFactory, speechin.Config{
		SessionID:       uuid.NewString(),
		SampleRate:      cfg.Voice.SampleRate,
		Language:        cfg.Voice.Language,
		RestartCooldown: time.Duration(cfg.Voice.RestartCooldownMS) * time.Millisecond,
	}, relay, notifier)

	output := speechout.NewController(synth, opts.Sink, relay)

	coord := turn.NewCoordinator(turn.Config{
		WelcomeText:      cfg.WelcomeText,
		RelistenDelay:    time.Duration(cfg.Voice.RelistenDelayMS) * time.Millisecond,
		RearmDelay:       time.Duration(cfg.Voice.RearmDelayMS) * time.Millisecond,
		ReplyTimeout:     time.Duration(cfg.Voice.ReplyTimeoutMS) * time.Millisecond,
		SynthesisTimeout: time.Duration(cfg.Voice.SynthTimeoutMS) * time.Millisecond,
	}, input, output, replier, notifier)
	relay.SetTarget(coord)
	coord.AddListener(observers.NewTurnObserver(asyncObs))

	hooks := runner.Hooks{
		OnStart: func() {
			slog.Info("engine_ready", "message", "Voxloop Engine Ready")
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine())
		},
	}

	drainer := drainerFunc(func() error {
		coord.End()
		select {
		case <-coord.Done():
		case <-time.After(10 * time.Second):
		}
		if synth != nil {
			_ = synth.Close()
		}
		return nil
	})

	return &Engine{
		cfg:       cfg,
		providers: providers,
		coord:     coord,
		input:     input,
		output:    output,
		asyncObs:  asyncObs,
		memObs:    memObs,
		runner:    runner.NewLifecycleRunner(drainer, hooks, 15*time.Second),
	}, nil
}

// Start initializes the session and launches the runner. Returns once the
// engine is running; Stop or context cancellation tears it down.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.coord.Start(e.ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(e.ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Coordinator() *turn.Coordinator { return e.coord }
func (e *Engine) Input() *speechin.Controller    { return e.input }
func (e *Engine) Output() *speechout.Controller  { return e.output }
func (e *Engine) Config() Config                 { return e.cfg }

// Metrics returns the events recorded so far. Useful for diagnostics
// endpoints and tests; the async observer may still be flushing.
func (e *Engine) Metrics() []metrics.MetricsEvent { return e.memObs.Snapshot() }

type drainerFunc func() error

func (f drainerFunc) Drain() error { return f() }

// emitterRelay defers the emit target so controllers can be constructed
// before the coordinator that consumes their events.
type emitterRelay struct {
	mu     sync.RWMutex
	target events.Emitter
}

func (r *emitterRelay) SetTarget(t events.Emitter) {
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
}

func (r *emitterRelay) Emit(ev events.Event) error {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.Emit(ev)
}

func SetDefaultLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
