package voxloop

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Voice.RelistenDelayMS != 700 || cfg.Voice.RearmDelayMS != 350 || cfg.Voice.RestartCooldownMS != 5000 {
		t.Fatalf("unexpected voice defaults: %+v", cfg.Voice)
	}
	if cfg.Voice.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", cfg.Voice.SampleRate)
	}
	if cfg.Gateway.Addr != ":8080" {
		t.Fatalf("unexpected gateway addr %q", cfg.Gateway.Addr)
	}
	if cfg.Vendors.Recognition.Provider != "mock" {
		t.Fatalf("unexpected default recognition provider %q", cfg.Vendors.Recognition.Provider)
	}
}

func TestLoadConfigExpandsEnvInSettings(t *testing.T) {
	t.Setenv("TEST_TTS_KEY", "secret-123")
	path := writeConfig(t, `
vendors:
  synthesis:
    provider: elevenlabs
    settings:
      api_key: ${TEST_TTS_KEY}
      voice_id: v1
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Vendors.Synthesis.Settings["api_key"]; got != "secret-123" {
		t.Fatalf("env not expanded: %v", got)
	}
}

func TestLoadConfigRejectsMissingProvider(t *testing.T) {
	path := writeConfig(t, `
vendors:
  reply:
    provider: ""
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for empty provider")
	}
}

func TestRegistryBuildsMockStack(t *testing.T) {
	cfg := Config{
		Vendors: VendorsConfig{
			Recognition: VendorConfig{Provider: "mock", Settings: map[string]any{"final": "hi"}},
			Synthesis:   VendorConfig{Provider: "mock"},
			Reply:       VendorConfig{Provider: "mock", Settings: map[string]any{"replies": []any{"yo"}}},
		},
		Voice: VoiceConfig{SampleRate: 16000},
	}
	reg := NewProviderRegistry()

	factory, err := reg.BuildRecognitionFactory(cfg)
	if err != nil || factory == nil {
		t.Fatalf("recognition factory: %v", err)
	}
	synth, err := reg.BuildSynthesizer(cfg)
	if err != nil || synth == nil {
		t.Fatalf("synthesizer: %v", err)
	}
	rep, err := reg.BuildReplier(cfg)
	if err != nil || rep == nil {
		t.Fatalf("replier: %v", err)
	}
}

func TestRegistryRequiresCredentials(t *testing.T) {
	cfg := Config{
		Vendors: VendorsConfig{
			Recognition: VendorConfig{Provider: "deepgram"},
			Synthesis:   VendorConfig{Provider: "elevenlabs"},
			Reply:       VendorConfig{Provider: "openai"},
		},
	}
	reg := NewProviderRegistry()
	if _, err := reg.BuildRecognitionFactory(cfg); err == nil {
		t.Fatalf("expected missing deepgram key error")
	}
	if _, err := reg.BuildSynthesizer(cfg); err == nil {
		t.Fatalf("expected missing elevenlabs key error")
	}
	if _, err := reg.BuildReplier(cfg); err == nil {
		t.Fatalf("expected missing openai key error")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	cfg := Config{Vendors: VendorsConfig{Reply: VendorConfig{Provider: "nope"}}}
	if _, err := NewProviderRegistry().BuildReplier(cfg); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestTextOnlyDeploymentHasNilFactory(t *testing.T) {
	cfg := Config{Vendors: VendorsConfig{Recognition: VendorConfig{Provider: "none"}}}
	factory, err := NewProviderRegistry().BuildRecognitionFactory(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if factory != nil {
		t.Fatalf("expected nil factory for text-only deployment")
	}
}
