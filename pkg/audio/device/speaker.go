package device

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/aetheria/pkg/audio/playback"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedContext(rate int, buffer time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
		if err != nil {
			otoErr = fmt.Errorf("device: init speaker: %w", err)
			return
		}
		<-ready
		otoCtx, otoRate = ctx, rate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if rate != otoRate {
		return nil, fmt.Errorf("device: speaker already running at %d Hz, cannot open at %d Hz", otoRate, rate)
	}
	return otoCtx, nil
}

var _ playback.Sink = (*Speaker)(nil)

// defaultReadAhead bounds how much audio a player pulls ahead of the device
// when no buffer length is configured.
const defaultReadAhead = 40 * time.Millisecond

// playerBufferBytes is the player read-ahead for d of 16-bit mono audio at
// rate Hz, rounded down to whole samples.
func playerBufferBytes(rate int, d time.Duration) int {
	if d <= 0 {
		d = defaultReadAhead
	}
	n := int(int64(rate) * 2 * int64(d) / int64(time.Second))
	n -= n % 2
	if n < 2 {
		n = 2
	}
	return n
}

// Speaker plays 16-bit mono PCM through the default output device. Each
// Speaker drives one player; the underlying oto context is shared.
type Speaker struct {
	ctx *oto.Context
	// bufBytes is the player read-ahead. It bounds how far the playback
	// timeline runs ahead of what is audible.
	bufBytes int

	mu     sync.Mutex
	player *oto.Player
	closed bool
}

// NewSpeaker opens the output device at rate Hz. buffer is both the device
// buffer length and the player read-ahead; 0 keeps the device default and a
// 40 ms read-ahead.
func NewSpeaker(rate int, buffer time.Duration) (*Speaker, error) {
	ctx, err := sharedContext(rate, buffer)
	if err != nil {
		return nil, err
	}
	return newSpeaker(ctx, rate, buffer), nil
}

func newSpeaker(ctx *oto.Context, rate int, buffer time.Duration) *Speaker {
	return &Speaker{ctx: ctx, bufBytes: playerBufferBytes(rate, buffer)}
}

// Play starts a player pulling from r.
func (s *Speaker) Play(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("device: speaker closed")
	}
	if s.player != nil {
		return fmt.Errorf("device: speaker already playing")
	}
	s.player = s.ctx.NewPlayer(r)
	s.player.SetBufferSize(s.bufBytes)
	s.player.Play()
	return nil
}

// Close stops the player. The shared device stays open. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.player == nil {
		return nil
	}
	s.player.Pause()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("device: close player: %w", err)
	}
	return nil
}
