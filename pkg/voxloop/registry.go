package voxloop

import (
	"fmt"
	"strings"

	"github.com/voxloop/voxloop/pkg/adapters/recognition"
	"github.com/voxloop/voxloop/pkg/adapters/reply"
	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/configutil"
	"github.com/voxloop/voxloop/pkg/providers/deepgram"
	"github.com/voxloop/voxloop/pkg/providers/elevenlabs"
	"github.com/voxloop/voxloop/pkg/providers/mock"
	"github.com/voxloop/voxloop/pkg/providers/openai"
)

type RecognitionFactoryBuilder func(cfg Config) (recognition.Factory, error)
type SynthesizerBuilder func(cfg Config) (synthesis.Synthesizer, error)
type ReplierBuilder func(cfg Config) (reply.Replier, error)

// ProviderRegistry maps vendor names from the config file to adapter
// constructors. The default registry knows the built-in providers; hosts
// can register their own before building.
type ProviderRegistry struct {
	recognition map[string]RecognitionFactoryBuilder
	synthesis   map[string]SynthesizerBuilder
	reply       map[string]ReplierBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{
		recognition: make(map[string]RecognitionFactoryBuilder),
		synthesis:   make(map[string]SynthesizerBuilder),
		reply:       make(map[string]ReplierBuilder),
	}
	r.RegisterRecognition("deepgram", buildDeepgramFactory)
	r.RegisterRecognition("mock", buildMockRecognitionFactory)
	r.RegisterRecognition("none", buildNoRecognitionFactory)
	r.RegisterSynthesis("elevenlabs", buildElevenLabsSynthesizer)
	r.RegisterSynthesis("mock", buildMockSynthesizer)
	r.RegisterReply("openai", buildOpenAIReplier)
	r.RegisterReply("mock", buildMockReplier)
	return r
}

func (r *ProviderRegistry) RegisterRecognition(name string, builder RecognitionFactoryBuilder) {
	r.recognition[normalize(name)] = builder
}

func (r *ProviderRegistry) RegisterSynthesis(name string, builder SynthesizerBuilder) {
	r.synthesis[normalize(name)] = builder
}

func (r *ProviderRegistry) RegisterReply(name string, builder ReplierBuilder) {
	r.reply[normalize(name)] = builder
}

func (r *ProviderRegistry) BuildRecognitionFactory(cfg Config) (recognition.Factory, error) {
	fn := r.recognition[normalize(cfg.Vendors.Recognition.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("recognition provider not registered: %s", cfg.Vendors.Recognition.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildSynthesizer(cfg Config) (synthesis.Synthesizer, error) {
	fn := r.synthesis[normalize(cfg.Vendors.Synthesis.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("synthesis provider not registered: %s", cfg.Vendors.Synthesis.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildReplier(cfg Config) (reply.Replier, error) {
	fn := r.reply[normalize(cfg.Vendors.Reply.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("reply provider not registered: %s", cfg.Vendors.Reply.Provider)
	}
	return fn(cfg)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildDeepgramFactory(cfg Config) (recognition.Factory, error) {
	if err := configutil.ValidateSettings(cfg.Vendors.Recognition.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.recognition.settings: %w", err)
	}
	var settings struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Recognition.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode deepgram settings: %w", err)
	}
	if settings.Model == "" {
		settings.Model = "nova-2"
	}
	return func(rc recognition.Config) recognition.Recognizer {
		return deepgram.New(deepgram.Config{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Language:   rc.Language,
			SampleRate: rc.SampleRate,
			SessionID:  rc.SessionID,
		})
	}, nil
}

func buildMockRecognitionFactory(cfg Config) (recognition.Factory, error) {
	var settings struct {
		Interims []string `mapstructure:"interims"`
		Final    string   `mapstructure:"final"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Recognition.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode mock recognition settings: %w", err)
	}
	return func(rc recognition.Config) recognition.Recognizer {
		return mock.NewRecognizer(mock.RecognizerConfig{
			SessionID: rc.SessionID,
			Interims:  settings.Interims,
			Final:     settings.Final,
		})
	}, nil
}

// buildNoRecognitionFactory is the text-only deployment: a nil factory makes
// the input controller log and fall back to typed input.
func buildNoRecognitionFactory(Config) (recognition.Factory, error) {
	return nil, nil
}

func buildElevenLabsSynthesizer(cfg Config) (synthesis.Synthesizer, error) {
	if err := configutil.ValidateSettings(cfg.Vendors.Synthesis.Settings, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.synthesis.settings: %w", err)
	}
	var settings struct {
		APIKey  string `mapstructure:"api_key"`
		VoiceID string `mapstructure:"voice_id"`
		ModelID string `mapstructure:"model_id"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Synthesis.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode elevenlabs settings: %w", err)
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:     settings.APIKey,
		VoiceID:    settings.VoiceID,
		ModelID:    settings.ModelID,
		SampleRate: cfg.Voice.SampleRate,
	}), nil
}

func buildMockSynthesizer(cfg Config) (synthesis.Synthesizer, error) {
	var settings struct {
		ClipBytes      int  `mapstructure:"clip_bytes"`
		QuotaExhausted bool `mapstructure:"quota_exhausted"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Synthesis.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode mock synthesis settings: %w", err)
	}
	return mock.NewSynthesizer(mock.SynthesizerConfig{
		SampleRate:     cfg.Voice.SampleRate,
		ClipBytes:      settings.ClipBytes,
		QuotaExhausted: settings.QuotaExhausted,
	}), nil
}

func buildOpenAIReplier(cfg Config) (reply.Replier, error) {
	if err := configutil.ValidateSettings(cfg.Vendors.Reply.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url"},
	}); err != nil {
		return nil, fmt.Errorf("vendors.reply.settings: %w", err)
	}
	var settings struct {
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
		BaseURL string `mapstructure:"base_url"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Reply.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode openai settings: %w", err)
	}
	if settings.Model == "" {
		settings.Model = "gpt-4o-mini"
	}
	rep := openai.NewReplier(settings.APIKey, settings.Model)
	if settings.BaseURL != "" {
		rep.BaseURL = settings.BaseURL
	}
	rep.BasePrompt = cfg.BasePrompt
	return rep, nil
}

func buildMockReplier(cfg Config) (reply.Replier, error) {
	var settings struct {
		Replies []string `mapstructure:"replies"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.Reply.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decode mock reply settings: %w", err)
	}
	if len(settings.Replies) == 0 {
		settings.Replies = []string{"Understood."}
	}
	return mock.NewReplier(mock.ReplierConfig{Replies: settings.Replies}), nil
}
