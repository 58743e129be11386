package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
live:
  provider: gemini-live
  api_key: test-key
`

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, LogInfo)
	}
	if cfg.Live.Model != DefaultModels[ProviderGeminiLive] {
		t.Errorf("Model = %q, want %q", cfg.Live.Model, DefaultModels[ProviderGeminiLive])
	}
	if cfg.Live.Instructions != DefaultInstructions {
		t.Error("Instructions not defaulted to the triage persona")
	}
	if cfg.Live.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.Live.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.Audio.CaptureRate != 16000 || cfg.Audio.CaptureBlock != 4096 || cfg.Audio.PlaybackRate != 24000 {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	yml := `
server:
  listen_addr: ":9090"
  log_level: debug
live:
  provider: openai-realtime
  api_key: sk-test
  model: gpt-4o-realtime-preview-2024-12-17
  voice: alloy
  instructions: custom persona
  connect_timeout: 10s
audio:
  capture_rate: 16000
  capture_block: 2048
  playback_rate: 24000
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Live.Provider != ProviderOpenAIRealtime {
		t.Errorf("Provider = %q", cfg.Live.Provider)
	}
	if cfg.Live.ConnectTimeout.Std() != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.Live.ConnectTimeout)
	}
	if cfg.Audio.CaptureBlock != 2048 {
		t.Errorf("CaptureBlock = %d, want 2048", cfg.Audio.CaptureBlock)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yml := `
live:
  provider: gemini-live
  api_key: test-key
  tempo: fast
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestMissingCredentialFailsFast(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	yml := `
live:
  provider: gemini-live
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestCredentialEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	yml := `
live:
  provider: openai-realtime
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Live.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env fallback", cfg.Live.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"bad provider", func(c *Config) { c.Live.Provider = "webrtc" }, "live.provider"},
		{"negative timeout", func(c *Config) { c.Live.ConnectTimeout = Duration(-time.Second) }, "connect_timeout"},
		{"wrong capture rate", func(c *Config) { c.Audio.CaptureRate = 44100 }, "capture_rate"},
		{"wrong playback rate", func(c *Config) { c.Audio.PlaybackRate = 48000 }, "playback_rate"},
		{"zero capture block", func(c *Config) { c.Audio.CaptureBlock = -1 }, "capture_block"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Live: LiveConfig{Provider: ProviderGeminiLive, APIKey: "k"}}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLogLevelSlog(t *testing.T) {
	if LogDebug.Slog().String() != "DEBUG" || LogError.Slog().String() != "ERROR" {
		t.Error("LogLevel.Slog mapping broken")
	}
	if LogLevel("").Slog().String() != "INFO" {
		t.Error("empty LogLevel should map to info")
	}
}
