package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned (wrapped) when no API key is available
// for the configured provider, neither in the file nor in the environment.
// The caller fails fast on it before touching audio devices or the network.
var ErrMissingCredential = errors.New("missing API credential")

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with their defaults, including the API
// key environment fallback for the configured provider.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = ProviderGeminiLive
	}
	if cfg.Live.Model == "" {
		cfg.Live.Model = DefaultModels[cfg.Live.Provider]
	}
	if cfg.Live.Instructions == "" {
		cfg.Live.Instructions = DefaultInstructions
	}
	if cfg.Live.ConnectTimeout == 0 {
		cfg.Live.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Live.APIKey == "" {
		if env, ok := CredentialEnvVars[cfg.Live.Provider]; ok {
			cfg.Live.APIKey = os.Getenv(env)
		}
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.CaptureBlock == 0 {
		cfg.Audio.CaptureBlock = DefaultCaptureBlock
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Live.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("live.provider %q is invalid; valid values: %s, %s", cfg.Live.Provider, ProviderGeminiLive, ProviderOpenAIRealtime))
	} else if cfg.Live.APIKey == "" {
		env := CredentialEnvVars[cfg.Live.Provider]
		errs = append(errs, fmt.Errorf("live.api_key is empty and %s is not set: %w", env, ErrMissingCredential))
	}
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout must not be negative, got %v", cfg.Live.ConnectTimeout.Std()))
	}

	// The wire protocol fixes both audio formats; a config asking for
	// anything else is a mistake, not a preference.
	if cfg.Audio.CaptureRate != DefaultCaptureRate {
		errs = append(errs, fmt.Errorf("audio.capture_rate must be %d, got %d", DefaultCaptureRate, cfg.Audio.CaptureRate))
	}
	if cfg.Audio.CaptureBlock <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_block must be positive, got %d", cfg.Audio.CaptureBlock))
	}
	if cfg.Audio.PlaybackRate != DefaultPlaybackRate {
		errs = append(errs, fmt.Errorf("audio.playback_rate must be %d, got %d", DefaultPlaybackRate, cfg.Audio.PlaybackRate))
	}

	return errors.Join(errs...)
}
