package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownBackends lists the live backend names wired in by the binary.
// Used by [Validate] to warn about unrecognised names.
var KnownBackends = []string{BackendGeminiLive, BackendGenAI}

// APIKeyEnv lists the environment variables consulted by [ApplyEnv], in
// order of preference.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}

// Load reads the YAML configuration file at path on top of [Default],
// applies the environment and validates the result. An empty path loads the
// defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

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

// LoadFromReader decodes a YAML config from r over [Default], applies the
// environment and validates the result. Unknown keys are rejected. Empty
// input yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills an empty live.api_key from the first non-empty variable in
// [APIKeyEnv]. A key set in the file wins.
func ApplyEnv(cfg *Config) {
	if cfg.Live.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			cfg.Live.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}

	// Live
	switch {
	case cfg.Live.Backend == "":
		errs = append(errs, errors.New("live.backend is required"))
	case !slices.Contains(KnownBackends, cfg.Live.Backend):
		slog.Warn("unknown live backend, may be a typo or third-party backend",
			"name", cfg.Live.Backend,
			"known", KnownBackends,
		)
	}
	if cfg.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("live.api_key is required; set it in the file or via %s", APIKeyEnv[0]))
	}
	if cfg.Live.Model == "" {
		errs = append(errs, errors.New("live.model is required"))
	}
	if !cfg.Live.InputTranscription && !cfg.Live.OutputTranscription {
		slog.Warn("both transcriptions are disabled; the transcript will stay empty")
	}

	// Audio
	if cfg.Audio.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	switch cfg.Audio.Input.Kind {
	case InputMicrophone:
	case InputWAV:
		if cfg.Audio.Input.Path == "" {
			errs = append(errs, errors.New("audio.input.path is required when kind is wav"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.input.kind %q is invalid; valid values: microphone, wav", cfg.Audio.Input.Kind))
	}

	switch cfg.Audio.Output.Kind {
	case OutputSpeaker, OutputDiscard:
	case OutputWAV:
		if cfg.Audio.Output.Path == "" {
			errs = append(errs, errors.New("audio.output.path is required when kind is wav"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.output.kind %q is invalid; valid values: speaker, wav, discard", cfg.Audio.Output.Kind))
	}
	if cfg.Audio.Output.BufferMS < 0 {
		errs = append(errs, fmt.Errorf("audio.output.buffer_ms %d must not be negative", cfg.Audio.Output.BufferMS))
	}

	return errors.Join(errs...)
}
