package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}
	if cfg.Agent.HandshakeTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("agent.handshake_timeout_ms %d must not be negative", cfg.Agent.HandshakeTimeoutMs))
	}
	if td := cfg.Agent.TurnDetection; td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("agent.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if cfg.Agent.TurnDetection.SilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("agent.turn_detection.silence_duration_ms %d must not be negative", cfg.Agent.TurnDetection.SilenceDurationMs))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// Capture
	if cfg.Capture.SilenceThreshold < 0 || cfg.Capture.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.2f is out of range [0, 1]", cfg.Capture.SilenceThreshold))
	}
	if cfg.Capture.MaxUtteranceMs > 0 && cfg.Capture.MinChunkMs > cfg.Capture.MaxUtteranceMs {
		errs = append(errs, fmt.Errorf("capture.min_chunk_ms %d exceeds capture.max_utterance_ms %d", cfg.Capture.MinChunkMs, cfg.Capture.MaxUtteranceMs))
	}
	for name, v := range map[string]int{
		"capture.silence_duration_ms":  cfg.Capture.SilenceDurationMs,
		"capture.min_confirmed_frames": cfg.Capture.MinConfirmedFrames,
		"capture.min_chunk_ms":         cfg.Capture.MinChunkMs,
		"capture.max_utterance_ms":     cfg.Capture.MaxUtteranceMs,
		"capture.pre_roll_ms":          cfg.Capture.PreRollMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Playback
	if cfg.Playback.NoiseGateThreshold < 0 || cfg.Playback.NoiseGateThreshold > 1 {
		errs = append(errs, fmt.Errorf("playback.noise_gate_threshold %.2f is out of range [0, 1]", cfg.Playback.NoiseGateThreshold))
	}
	if cfg.Playback.TargetRMS < 0 || cfg.Playback.TargetRMS > 1 {
		errs = append(errs, fmt.Errorf("playback.target_rms %.2f is out of range [0, 1]", cfg.Playback.TargetRMS))
	}
	for name, v := range map[string]int{
		"playback.min_chunks":        cfg.Playback.MinChunks,
		"playback.max_wait_ms":       cfg.Playback.MaxWaitMs,
		"playback.fade_ms":           cfg.Playback.FadeMs,
		"playback.sentence_pause_ms": cfg.Playback.SentencePauseMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Connection
	if cfg.Connection.BackoffCapMs > 0 && cfg.Connection.BackoffBaseMs > cfg.Connection.BackoffCapMs {
		errs = append(errs, fmt.Errorf("connection.backoff_base_ms %d exceeds connection.backoff_cap_ms %d", cfg.Connection.BackoffBaseMs, cfg.Connection.BackoffCapMs))
	}
	for name, v := range map[string]int{
		"connection.backoff_base_ms":      cfg.Connection.BackoffBaseMs,
		"connection.backoff_cap_ms":       cfg.Connection.BackoffCapMs,
		"connection.max_attempts":         cfg.Connection.MaxAttempts,
		"connection.breaker_max_failures": cfg.Connection.BreakerMaxFailures,
		"connection.breaker_cooldown_ms":  cfg.Connection.BreakerCooldownMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Transcript availability
	if cfg.Transcript.PostgresDSN == "" {
		slog.Debug("transcript.postgres_dsn is empty; conversation history will not persist across restarts")
	}

	return errors.Join(errs...)
}

// reload support for the watcher; parses from an in-memory copy so the file
// is read exactly once per change.
func loadFromBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
