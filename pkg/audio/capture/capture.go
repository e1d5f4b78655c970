// Package capture turns a microphone-like device into a stream of fixed-size
// mono float frames.
//
// A [Device] pushes samples of arbitrary length from its own thread. A
// [Stream] re-chunks them with a [Framer] and hands each full frame to a
// handler until the stream is stopped.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Device is a source of mono float32 samples in [-1, 1] at a fixed rate.
type Device interface {
	// Start begins delivering samples to fn. fn is called from the device's
	// own goroutine and must not retain the slice.
	Start(fn func(samples []float32)) error

	// Close stops delivery and releases the device. Calling Close more than
	// once is safe.
	Close() error
}

// FrameHandler receives one full frame. The slice is owned by the handler.
type FrameHandler func(frame []float32)

// Framer accumulates samples and emits fixed-size frames. It is not safe for
// concurrent use; a device delivers from a single goroutine.
type Framer struct {
	size int
	buf  []float32
	emit FrameHandler
}

// NewFramer creates a framer emitting frames of size samples to emit.
func NewFramer(size int, emit FrameHandler) *Framer {
	if size <= 0 {
		panic(fmt.Sprintf("capture: invalid frame size %d", size))
	}
	return &Framer{size: size, buf: make([]float32, 0, size), emit: emit}
}

// Write appends samples and emits every frame that became complete.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frame := f.buf
			f.buf = make([]float32, 0, f.size)
			f.emit(frame)
		}
	}
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards any partial frame.
func (f *Framer) Reset() { f.buf = f.buf[:0] }

// Stream connects a device to a frame handler.
type Stream struct {
	dev     Device
	framer  *Framer
	stopped atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Open starts dev and delivers frames of frameSize samples to handler.
func Open(dev Device, frameSize int, handler FrameHandler) (*Stream, error) {
	if dev == nil {
		return nil, errors.New("capture: nil device")
	}
	s := &Stream{dev: dev}
	s.framer = NewFramer(frameSize, func(frame []float32) {
		if s.stopped.Load() {
			return
		}
		handler(frame)
	})
	if err := dev.Start(s.onSamples); err != nil {
		return nil, fmt.Errorf("capture: start device: %w", err)
	}
	return s, nil
}

func (s *Stream) onSamples(samples []float32) {
	if s.stopped.Load() {
		return
	}
	s.framer.Write(samples)
}

// Stop disconnects the handler. Frames produced after Stop are dropped. The
// device keeps running until Close.
func (s *Stream) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop or Close has been called.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// Close stops the stream and releases the device. Idempotent.
func (s *Stream) Close() error {
	s.Stop()
	s.closeOnce.Do(func() {
		if err := s.dev.Close(); err != nil {
			s.closeErr = fmt.Errorf("capture: close device: %w", err)
		}
	})
	return s.closeErr
}
