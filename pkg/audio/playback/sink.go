package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Sink pulls rendered PCM from a reader and delivers it to an output, such
// as a sound card or a file. Play returns once the pump is running; the sink
// keeps reading until the reader returns an error or Close is called.
type Sink interface {
	Play(r io.Reader) error
	Close() error
}

// DefaultPeriod is the render interval used by [ClockedSink] when none is
// given.
const DefaultPeriod = 20 * time.Millisecond

// ClockedSink drives a reader in real time without a sound card: every
// period it reads one period's worth of 16-bit mono PCM and writes it to w.
// It backs file output and headless runs, where nothing else advances the
// playback clock.
type ClockedSink struct {
	w      io.Writer
	rate   int
	period time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	err     error
}

var _ Sink = (*ClockedSink)(nil)

// NewClockedSink creates a sink that writes to w at sampleRate. A
// non-positive period selects [DefaultPeriod].
func NewClockedSink(w io.Writer, sampleRate int, period time.Duration) *ClockedSink {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &ClockedSink{
		w:       w,
		rate:    sampleRate,
		period:  period,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Play starts the pump goroutine. It may be called once.
func (s *ClockedSink) Play(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("playback: sink already playing")
	}
	frames := int(int64(s.rate) * int64(s.period) / int64(time.Second))
	if frames <= 0 {
		return fmt.Errorf("playback: period %s too short for %d Hz", s.period, s.rate)
	}
	s.started = true
	go s.pump(r, make([]byte, frames*2))
	return nil
}

func (s *ClockedSink) pump(r io.Reader, buf []byte) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := s.w.Write(buf[:n]); werr != nil {
				s.setErr(fmt.Errorf("playback: write: %w", werr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.setErr(fmt.Errorf("playback: read: %w", err))
			}
			slog.Debug("playback: sink reader drained", "err", err)
			return
		}
	}
}

func (s *ClockedSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the error that stopped the pump, if any.
func (s *ClockedSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the pump and waits for it to exit. It is idempotent.
func (s *ClockedSink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.stopped
	}
	return s.Err()
}
