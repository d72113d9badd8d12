// Package config loads the daemon configuration: defaults, then the YAML
// file, then the environment, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var defaultModels = map[string]string{
	ProviderOpenAI: "gpt-5-nano",
	ProviderGemini: "gemini-2.5-flash",
}

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Personality PersonalityConfig `yaml:"personality"`
	Voice       VoiceConfig       `yaml:"voice"`
	TTS         TTSConfig         `yaml:"tts"`
	Gesture     GestureConfig     `yaml:"gesture"`
	Confirm     ConfirmConfig     `yaml:"confirm"`
	Memory      MemoryConfig      `yaml:"memory"`
	Events      EventsConfig      `yaml:"events"`
	Devices     DevicesConfig     `yaml:"devices"`
	Notify      NotifyConfig      `yaml:"notify"`
	IPC         IPCConfig         `yaml:"ipc"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
	// Proxy is a SOCKS5 address; empty dials directly.
	Proxy string `yaml:"proxy"`
}

type PersonalityConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`
	UserName string `yaml:"user_name"`
	Brief    bool   `yaml:"brief"`
	// Rewrite asks the language model to refine replies after delivery.
	Rewrite bool `yaml:"rewrite"`
}

type VoiceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WakeWords       []string      `yaml:"wake_words"`
	WakeWordEnabled bool          `yaml:"wake_word_enabled"`
	ModelPath       string        `yaml:"model_path"`
	Language        string        `yaml:"language"`
	CaptureTimeout  time.Duration `yaml:"capture_timeout"`
	// ListenOnStart turns continuous listening on at boot.
	ListenOnStart bool   `yaml:"listen_on_start"`
	Earcon        string `yaml:"earcon"`
}

type TTSConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Rate          int     `yaml:"rate"`
	Volume        float64 `yaml:"volume"`
	Voice         string  `yaml:"voice"`
	SummarizeOver int     `yaml:"summarize_over"`
	Duck          bool    `yaml:"duck"`
}

type GestureConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ConfirmConfig struct {
	Destructive bool `yaml:"destructive"`
}

type MemoryConfig struct {
	Size int `yaml:"size"`
	// Path enables the SQLite tier when set.
	Path string `yaml:"path"`
}

type EventsConfig struct {
	WSURL       string `yaml:"ws_url"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type DevicesConfig struct {
	HubURL string `yaml:"hub_url"`
	Shard  string `yaml:"shard"`
}

type NotifyConfig struct {
	Desktop bool `yaml:"desktop"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Temperature: 0.1,
			Timeout:     15 * time.Second,
			MinInterval: 500 * time.Millisecond,
		},
		Personality: PersonalityConfig{Enabled: true, Name: "BOI"},
		Voice: VoiceConfig{
			Enabled:         true,
			WakeWords:       []string{"boi"},
			WakeWordEnabled: true,
			Language:        "en",
			CaptureTimeout:  10 * time.Second,
		},
		TTS: TTSConfig{
			Enabled:       true,
			Rate:          165,
			Volume:        0.95,
			SummarizeOver: 200,
			Duck:          true,
		},
		Confirm: ConfirmConfig{Destructive: true},
		Memory:  MemoryConfig{Size: 50},
		Devices: DevicesConfig{Shard: "boi"},
		IPC:     IPCConfig{Socket: "/tmp/boi.sock"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv applies BOI_* overrides. The API key falls back to the provider's
// conventional variable.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("BOI_LLM_PROVIDER"); ok && v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v, ok := lookup("BOI_LLM_MODEL"); ok && v != "" {
		c.LLM.Model = v
	}

	if v, ok := lookup("BOI_LLM_API_KEY"); ok && v != "" {
		c.LLM.APIKey = v
	} else if c.LLM.APIKey == "" {
		fallback := "OPENAI_API_KEY"
		if c.LLM.Provider == ProviderGemini {
			fallback = "GEMINI_API_KEY"
		}
		if v, ok := lookup(fallback); ok {
			c.LLM.APIKey = v
		}
	}

	if v, ok := lookup("BOI_WAKE_WORDS"); ok {
		c.Voice.WakeWords = splitList(v)
	}
	if v, ok := lookup("BOI_TTS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TTS.Enabled = b
		}
	}
}

// Finalize fills values that depend on other settings and validates.
func (c *Config) Finalize() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature: %v is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.LLM.MinInterval < 0 {
		errs = append(errs, errors.New("llm.min_interval must not be negative"))
	}
	if c.Memory.Size < 1 {
		errs = append(errs, fmt.Errorf("memory.size: %d is less than 1", c.Memory.Size))
	}
	if c.Voice.WakeWordEnabled && len(c.Voice.WakeWords) == 0 {
		errs = append(errs, errors.New("voice.wake_words: empty while voice.wake_word_enabled is set"))
	}
	if c.Voice.CaptureTimeout <= 0 {
		errs = append(errs, errors.New("voice.capture_timeout must be positive"))
	}
	if c.TTS.Volume < 0 || c.TTS.Volume > 1 {
		errs = append(errs, fmt.Errorf("tts.volume: %v is outside [0, 1]", c.TTS.Volume))
	}
	if c.Devices.HubURL != "" && c.Devices.Shard == "" {
		errs = append(errs, errors.New("devices.shard is required with devices.hub_url"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
