package device

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/aetheria/pkg/audio/capture"
	"github.com/MrWong99/aetheria/pkg/audio/playback"
	"github.com/MrWong99/aetheria/pkg/audio/wav"
)

// Input kinds.
const (
	InputMicrophone = "microphone"
	InputWAV        = "wav"
)

// Output kinds.
const (
	OutputSpeaker = "speaker"
	OutputWAV     = "wav"
	OutputDiscard = "discard"
)

// Config selects the audio endpoints opened for each session.
type Config struct {
	Input     string
	InputPath string

	Output     string
	OutputPath string

	// OutputBuffer is the speaker device buffer length and player read-ahead.
	OutputBuffer time.Duration

	// PeriodFrames is the microphone callback size in frames.
	PeriodFrames int
}

// Factory opens a fresh input device and output sink for every session.
type Factory struct {
	cfg Config

	mu       sync.Mutex
	sessions int
}

// NewFactory validates cfg and returns a factory for it.
func NewFactory(cfg Config) (*Factory, error) {
	switch cfg.Input {
	case InputMicrophone:
	case InputWAV:
		if cfg.InputPath == "" {
			return nil, fmt.Errorf("device: wav input requires a path")
		}
	default:
		return nil, fmt.Errorf("device: unknown input kind %q", cfg.Input)
	}
	switch cfg.Output {
	case OutputSpeaker, OutputDiscard:
	case OutputWAV:
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("device: wav output requires a path")
		}
	default:
		return nil, fmt.Errorf("device: unknown output kind %q", cfg.Output)
	}
	return &Factory{cfg: cfg}, nil
}

// OpenInput acquires the capture device at rate Hz.
func (f *Factory) OpenInput(rate int) (capture.Device, error) {
	switch f.cfg.Input {
	case InputWAV:
		return wav.NewFileSource(f.cfg.InputPath, rate)
	default:
		return NewMicrophone(rate, f.cfg.PeriodFrames)
	}
}

// OpenOutput creates the playback sink at rate Hz.
func (f *Factory) OpenOutput(rate int) (playback.Sink, error) {
	switch f.cfg.Output {
	case OutputWAV:
		f.mu.Lock()
		f.sessions++
		n := f.sessions
		f.mu.Unlock()
		return wav.NewFileSink(numberedPath(f.cfg.OutputPath, n), rate, 0), nil
	case OutputDiscard:
		return playback.NewClockedSink(io.Discard, rate, 0), nil
	default:
		return NewSpeaker(rate, f.cfg.OutputBuffer)
	}
}

// numberedPath leaves the first session's path untouched and suffixes later
// ones: reply.wav, reply-2.wav, reply-3.wav.
func numberedPath(path string, n int) string {
	if n <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), n, ext)
}
