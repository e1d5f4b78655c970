package wav

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aetheria/pkg/audio/capture"
)

// DefaultChunk is the delivery interval of a FileSource.
const DefaultChunk = 20 * time.Millisecond

var _ capture.Device = (*FileSource)(nil)

// FileSource replays a WAV recording as if it were a microphone. Samples are
// delivered at real-time pace; once the recording is exhausted the source
// keeps delivering silence so the remote end can detect the end of speech.
type FileSource struct {
	clip  *Clip
	chunk time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewFileSource loads path and converts it to rate.
func NewFileSource(path string, rate int) (*FileSource, error) {
	clip, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return NewClipSource(clip, rate)
}

// NewClipSource wraps an already decoded clip, converting it to rate.
func NewClipSource(clip *Clip, rate int) (*FileSource, error) {
	converted, err := clip.Resample(rate)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		clip:    converted,
		chunk:   DefaultChunk,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Duration returns the length of the recording.
func (s *FileSource) Duration() time.Duration {
	return time.Duration(int64(len(s.clip.Samples)) * int64(time.Second) / int64(s.clip.SampleRate))
}

// Start begins real-time delivery to fn.
func (s *FileSource) Start(fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("wav: source already started")
	}
	select {
	case <-s.done:
		return fmt.Errorf("wav: source closed")
	default:
	}
	per := int(int64(s.clip.SampleRate) * int64(s.chunk) / int64(time.Second))
	if per <= 0 {
		return fmt.Errorf("wav: chunk %s too short for %d Hz", s.chunk, s.clip.SampleRate)
	}
	s.started = true
	go s.run(fn, per)
	return nil
}

func (s *FileSource) run(fn func([]float32), per int) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.chunk)
	defer ticker.Stop()

	pos := 0
	silence := make([]float32, per)
	announced := false
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if pos < len(s.clip.Samples) {
			end := min(pos+per, len(s.clip.Samples))
			fn(s.clip.Samples[pos:end])
			pos = end
			continue
		}
		if !announced {
			slog.Debug("wav: input recording finished, sending silence")
			announced = true
		}
		fn(silence)
	}
}

// Close stops delivery and waits for the delivery goroutine. Idempotent.
func (s *FileSource) Close() error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.stopped
	}
	return nil
}
