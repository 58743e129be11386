// Package config provides the configuration schema and loader for the
// appliance-service voice call agent.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings like
// "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the call agent.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. An empty level means info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Provider selects the speech-to-speech backend for the call.
type Provider string

const (
	ProviderGeminiLive     Provider = "gemini-live"
	ProviderOpenAIRealtime Provider = "openai-realtime"
)

// IsValid reports whether p is a recognised provider.
func (p Provider) IsValid() bool {
	return p == ProviderGeminiLive || p == ProviderOpenAIRealtime
}

// DefaultInstructions is the triage persona used when the config does not
// override the system prompt.
const DefaultInstructions = "你是家电售后服务中心的电话客服。你的任务是接听报修电话：" +
	"确认客户的家电类型、品牌型号和故障现象，判断问题严重程度，给出初步的排查建议，" +
	"并在需要上门维修时登记客户的联系方式和地址。语气亲切、简洁，一次只问一个问题。"

// Config is the root configuration structure for the call agent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the agent's
// health/metrics endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the diagnostics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig selects and authenticates the speech-to-speech backend.
type LiveConfig struct {
	// Provider selects the backend ("gemini-live" or "openai-realtime").
	Provider Provider `yaml:"provider"`

	// APIKey authenticates against the provider. When empty, the loader
	// falls back to the provider's conventional environment variable.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint. Leave empty to
	// use the built-in default.
	BaseURL string `yaml:"base_url"`

	// Voice selects the synthesized voice, provider-specific.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt establishing the triage persona.
	// Empty means [DefaultInstructions].
	Instructions string `yaml:"instructions"`

	// ConnectTimeout bounds channel establishment. Zero means 30s.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// AudioConfig pins the capture and playback formats. The fields exist so a
// config file states the contract explicitly; values other than the
// defaults are rejected because the wire protocol fixes them.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate int `yaml:"capture_rate"`

	// CaptureBlock is the number of samples per capture frame.
	CaptureBlock int `yaml:"capture_block"`

	// PlaybackRate is the response audio sample rate in Hz.
	PlaybackRate int `yaml:"playback_rate"`
}

// Defaults for fields left empty in the YAML file.
const (
	DefaultListenAddr     = ":8080"
	DefaultCaptureRate    = 16000
	DefaultCaptureBlock   = 4096
	DefaultPlaybackRate   = 24000
	DefaultConnectTimeout = Duration(30 * time.Second)
)

// DefaultModels maps each provider to the model used when none is
// configured.
var DefaultModels = map[Provider]string{
	ProviderGeminiLive:     "gemini-2.0-flash-live-001",
	ProviderOpenAIRealtime: "gpt-4o-realtime-preview",
}

// CredentialEnvVars maps each provider to the environment variable checked
// when live.api_key is empty.
var CredentialEnvVars = map[Provider]string{
	ProviderGeminiLive:     "GEMINI_API_KEY",
	ProviderOpenAIRealtime: "OPENAI_API_KEY",
}
