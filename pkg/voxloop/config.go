package voxloop

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/voxloop/voxloop/pkg/configutil"
)

type Config struct {
	Vendors     VendorsConfig `mapstructure:"vendors"`
	Voice       VoiceConfig   `mapstructure:"voice"`
	Gateway     GatewayConfig `mapstructure:"gateway"`
	Environment string        `mapstructure:"environment"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	BasePrompt  string        `mapstructure:"base_prompt"`
	WelcomeText string        `mapstructure:"welcome_text"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Recognition VendorConfig `mapstructure:"recognition"`
	Synthesis   VendorConfig `mapstructure:"synthesis"`
	Reply       VendorConfig `mapstructure:"reply"`
}

type VoiceConfig struct {
	SampleRate        int    `mapstructure:"sample_rate"`
	Language          string `mapstructure:"language"`
	RelistenDelayMS   int    `mapstructure:"relisten_delay_ms"`
	RearmDelayMS      int    `mapstructure:"rearm_delay_ms"`
	RestartCooldownMS int    `mapstructure:"restart_cooldown_ms"`
	ReplyTimeoutMS    int    `mapstructure:"reply_timeout_ms"`
	SynthTimeoutMS    int    `mapstructure:"synth_timeout_ms"`
}

type GatewayConfig struct {
	Addr string `mapstructure:"addr"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("welcome_text", "Hi! How can I help you today?")
	v.SetDefault("voice.sample_rate", 16000)
	v.SetDefault("voice.language", "en")
	v.SetDefault("voice.relisten_delay_ms", 700)
	v.SetDefault("voice.rearm_delay_ms", 350)
	v.SetDefault("voice.restart_cooldown_ms", 5000)
	v.SetDefault("voice.reply_timeout_ms", 30000)
	v.SetDefault("voice.synth_timeout_ms", 30000)
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("vendors.recognition.provider", "mock")
	v.SetDefault("vendors.synthesis.provider", "mock")
	v.SetDefault("vendors.reply.provider", "mock")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Vendors.Recognition.Provider, "vendors.recognition.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Synthesis.Provider, "vendors.synthesis.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Reply.Provider, "vendors.reply.provider"); err != nil {
		return err
	}
	return configutil.RequireString(c.Gateway.Addr, "gateway.addr")
}

func expandEnvStrings(cfg *Config) {
	cfg.BasePrompt = os.ExpandEnv(cfg.BasePrompt)
	cfg.WelcomeText = os.ExpandEnv(cfg.WelcomeText)
	cfg.Gateway.Addr = os.ExpandEnv(cfg.Gateway.Addr)
	cfg.Vendors.Recognition.Settings = expandSettings(cfg.Vendors.Recognition.Settings)
	cfg.Vendors.Synthesis.Settings = expandSettings(cfg.Vendors.Synthesis.Settings)
	cfg.Vendors.Reply.Settings = expandSettings(cfg.Vendors.Reply.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
