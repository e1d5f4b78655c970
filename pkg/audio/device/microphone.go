// Package device binds the capture and playback abstractions to real
// hardware: a miniaudio capture device for the microphone and an oto player
// for the speaker. It also provides an I/O factory that selects between the
// hardware and file-backed endpoints.
package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/aetheria/pkg/audio/capture"
	"github.com/gen2brain/malgo"
)

var _ capture.Device = (*Microphone)(nil)

// Microphone captures mono float32 audio from the default input device.
type Microphone struct {
	rate   int
	period int

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	dev     *malgo.Device
	samples []float32
	closed  bool
}

// NewMicrophone initialises the audio backend for capture at rate Hz.
// periodFrames is the device callback size; zero lets the backend choose.
func NewMicrophone(rate, periodFrames int) (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("device: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	return &Microphone{rate: rate, period: periodFrames, mctx: mctx}, nil
}

// Start opens the capture device and begins delivering samples to fn from
// the backend's audio thread.
func (m *Microphone) Start(fn func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("device: microphone closed")
	}
	if m.dev != nil {
		return fmt.Errorf("device: microphone already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInFrames = uint32(m.period)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(m.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			fn(m.decode(in, int(frames)))
		},
	})
	if err != nil {
		return fmt.Errorf("device: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("device: start capture: %w", err)
	}
	m.dev = dev
	return nil
}

// decode converts the backend's little-endian f32 buffer. The returned slice
// is reused between callbacks.
func (m *Microphone) decode(in []byte, frames int) []float32 {
	n := min(frames, len(in)/4)
	if cap(m.samples) < n {
		m.samples = make([]float32, n)
	}
	out := m.samples[:n]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}
	return out
}

// Close stops capture and releases the device and backend. Idempotent.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.dev != nil {
		if err := m.dev.Stop(); err != nil {
			slog.Warn("device: stop capture", "err", err)
		}
		m.dev.Uninit()
		m.dev = nil
	}
	if err := m.mctx.Uninit(); err != nil {
		slog.Warn("device: uninit audio context", "err", err)
	}
	m.mctx.Free()
	return nil
}
