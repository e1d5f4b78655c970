package wav

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/aetheria/pkg/audio"
	"github.com/MrWong99/aetheria/pkg/audio/playback"
)

var _ playback.Sink = (*FileSink)(nil)

// FileSink records the playback timeline to a WAV file. Rendering is paced
// in real time by a playback.ClockedSink; the file is written on Close.
type FileSink struct {
	path string
	rate int

	mu     sync.Mutex
	pcm    bytes.Buffer
	clock  *playback.ClockedSink
	closed bool
}

// NewFileSink creates a sink that writes 16-bit mono WAV at rate to path.
func NewFileSink(path string, rate int, period time.Duration) *FileSink {
	s := &FileSink{path: path, rate: rate}
	s.clock = playback.NewClockedSink(lockedWriter{s}, rate, period)
	return s
}

type lockedWriter struct{ s *FileSink }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.pcm.Write(p)
}

// Play starts pulling rendered PCM from r.
func (s *FileSink) Play(r io.Reader) error {
	return s.clock.Play(r)
}

// Close stops rendering and writes the collected audio to the file. Only the
// first call writes; later calls return nil.
func (s *FileSink) Close() error {
	clockErr := s.clock.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	samples := audio.PCM16ToFloat32(s.pcm.Bytes())
	s.mu.Unlock()

	if err := EncodeFile(s.path, samples, s.rate); err != nil {
		return err
	}
	if clockErr != nil {
		return fmt.Errorf("wav: sink: %w", clockErr)
	}
	return nil
}
