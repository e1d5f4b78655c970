// Package config provides the configuration schema, loader, and live backend
// registry for the Aetheria voice assistant.
package config

import (
	"log/slog"

	"github.com/MrWong99/aetheria/pkg/audio"
	"github.com/MrWong99/aetheria/pkg/audio/device"
)

// LogLevel controls log verbosity.
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

// SlogLevel maps l to the corresponding [slog.Level]. Unknown and empty
// levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
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

// Live backend names understood by the default registry.
const (
	BackendGeminiLive = "gemini-live"
	BackendGenAI      = "genai"
)

// Audio endpoint kinds, as understood by the device factory.
const (
	InputMicrophone = device.InputMicrophone
	InputWAV        = device.InputWAV

	OutputSpeaker = device.OutputSpeaker
	OutputWAV     = device.OutputWAV
	OutputDiscard = device.OutputDiscard
)

// DefaultInstructions is the persona given to the model when none is
// configured.
const DefaultInstructions = "You are Aetheria, a friendly and helpful personal assistant. " +
	"Your goal is to provide accurate information, engage in pleasant conversation, " +
	"and assist the user with their queries in a warm and supportive manner."

// Config is the root configuration structure for Aetheria.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Assistant AssistantConfig `yaml:"assistant"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// File, when set, switches logging to JSON lines written to a rotated
	// file instead of text on stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept. 0 keeps all.
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays removes rotated files older than this. 0 disables.
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// ServerConfig holds the observability HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// LiveConfig selects and configures the remote live session backend.
type LiveConfig struct {
	// Backend selects the connector registered in the [Registry].
	Backend string `yaml:"backend"`

	// APIKey authenticates with the backend. Usually supplied through the
	// environment, see [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the live model identifier.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice for synthesised speech.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction.
	Instructions string `yaml:"instructions"`

	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`
}

// AudioConfig configures capture, playback and their endpoints.
type AudioConfig struct {
	// InputSampleRate is the capture rate sent to the backend.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback timeline rate.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameSize is the number of samples per frame sent upstream.
	FrameSize int `yaml:"frame_size"`

	Input  AudioInputConfig  `yaml:"input"`
	Output AudioOutputConfig `yaml:"output"`
}

// AudioInputConfig selects where captured audio comes from.
type AudioInputConfig struct {
	// Kind is "microphone" or "wav".
	Kind string `yaml:"kind"`

	// Path is the WAV file played as microphone input when Kind is "wav".
	Path string `yaml:"path"`
}

// AudioOutputConfig selects where response audio goes.
type AudioOutputConfig struct {
	// Kind is "speaker", "wav" or "discard".
	Kind string `yaml:"kind"`

	// Path is the WAV file the playback timeline is recorded to when Kind
	// is "wav". Later sessions get a numbered suffix.
	Path string `yaml:"path"`

	// BufferMS is the speaker device buffer and player read-ahead in
	// milliseconds. 0 uses the driver default device buffer and a 40 ms
	// read-ahead.
	BufferMS int `yaml:"buffer_ms"`
}

// AssistantConfig holds presentation settings.
type AssistantConfig struct {
	// Name labels the assistant in the transcript.
	Name string `yaml:"name"`

	// UserLabel labels the user in the transcript.
	UserLabel string `yaml:"user_label"`

	// TranscriptFile, when set, receives a copy of the rendered transcript.
	TranscriptFile string `yaml:"transcript_file"`
}

// Default returns a configuration that runs against the Gemini Live API with
// the local microphone and speaker.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      LogInfo,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Live: LiveConfig{
			Backend:             BackendGeminiLive,
			Model:               "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:               "Zephyr",
			Instructions:        DefaultInstructions,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Audio: AudioConfig{
			InputSampleRate:  audio.InputSampleRate,
			OutputSampleRate: audio.OutputSampleRate,
			FrameSize:        audio.DefaultFrameSize,
			Input:            AudioInputConfig{Kind: InputMicrophone},
			Output:           AudioOutputConfig{Kind: OutputSpeaker},
		},
		Assistant: AssistantConfig{
			Name:      "Aetheria",
			UserLabel: "You",
		},
	}
}
