// Package playback renders synthesised speech onto a single output timeline.
//
// A [Context] is the output audio context: a sample clock at a fixed rate
// that advances as samples are pulled from it (usually by a [Sink] backed by
// a sound card). Buffers are placed on the timeline through [Source] values
// started at absolute frame positions, and every read mixes whatever sources
// overlap the rendered window.
//
// A [Scheduler] keeps the playback cursor: each enqueued buffer starts where
// the previous one ends, or now if the timeline has already moved past that
// point, so consecutive response chunks play back without gaps or overlaps.
package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when a source is created or started on a closed
	// context.
	ErrClosed = errors.New("playback: context closed")

	// ErrAlreadyStarted is returned when Start is called twice on a source.
	ErrAlreadyStarted = errors.New("playback: source already started")
)

// Buffer is a block of mono float samples at a fixed rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// NewBuffer wraps samples recorded at rate.
func NewBuffer(samples []float32, rate int) *Buffer {
	return &Buffer{Samples: samples, SampleRate: rate}
}

// Len returns the number of sample frames in the buffer.
func (b *Buffer) Len() int { return len(b.Samples) }

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Samples)) * int64(time.Second) / int64(b.SampleRate))
}

// Context is a mono output timeline clocked in sample frames. It is safe for
// concurrent use: one goroutine typically reads (renders) while another
// schedules sources.
type Context struct {
	rate int

	mu      sync.Mutex
	frame   int64
	sources map[*Source]struct{}
	closed  bool
	scratch []float32
}

// NewContext creates an output context rendering at sampleRate Hz.
func NewContext(sampleRate int) *Context {
	if sampleRate <= 0 {
		panic(fmt.Sprintf("playback: invalid sample rate %d", sampleRate))
	}
	return &Context{
		rate:    sampleRate,
		sources: make(map[*Source]struct{}),
	}
}

// SampleRate returns the rate of the timeline in Hz.
func (c *Context) SampleRate() int { return c.rate }

// CurrentFrame returns the number of frames rendered so far.
func (c *Context) CurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// CurrentTime returns the playback position of the timeline.
func (c *Context) CurrentTime() time.Duration {
	return c.FrameDuration(c.CurrentFrame())
}

// FrameDuration converts a frame count at the context rate to a duration.
func (c *Context) FrameDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(c.rate))
}

// Active returns the number of sources that are started and not yet ended.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// NewSource prepares buf for playback on this context. The buffer must be
// recorded at the context's rate.
func (c *Context) NewSource(buf *Buffer) (*Source, error) {
	if buf == nil {
		return nil, errors.New("playback: nil buffer")
	}
	if buf.SampleRate != c.rate {
		return nil, fmt.Errorf("playback: buffer rate %d Hz does not match context rate %d Hz", buf.SampleRate, c.rate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return &Source{ctx: c, buf: buf}, nil
}

// Render mixes every overlapping source into out and advances the clock by
// len(out) frames. It returns the number of frames rendered, which is zero
// once the context is closed.
func (c *Context) Render(out []float32) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	clear(out)
	from := c.frame
	to := from + int64(len(out))
	var ended []*Source
	for s := range c.sources {
		start := max(s.start, from)
		end := min(s.end(), to)
		for f := start; f < end; f++ {
			out[f-from] += s.buf.Samples[f-s.start]
		}
		if s.end() <= to {
			delete(c.sources, s)
			s.state = sourceEnded
			ended = append(ended, s)
		}
	}
	c.frame = to
	c.mu.Unlock()

	for _, s := range ended {
		s.fireEnded()
	}
	return len(out)
}

// Read implements io.Reader by rendering little-endian signed 16-bit mono
// PCM. It returns io.EOF after Close.
func (c *Context) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}
	c.mu.Lock()
	if cap(c.scratch) < n {
		c.scratch = make([]float32, n)
	}
	buf := c.scratch[:n]
	c.scratch = nil
	c.mu.Unlock()

	rendered := c.Render(buf)

	c.mu.Lock()
	c.scratch = buf
	c.mu.Unlock()

	if rendered == 0 {
		return 0, io.EOF
	}
	for i, s := range buf[:rendered] {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(quantize(s)))
	}
	return rendered * 2, nil
}

// Close stops every playing source and freezes the clock. Subsequent reads
// return io.EOF. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stopped := make([]*Source, 0, len(c.sources))
	for s := range c.sources {
		s.state = sourceEnded
		stopped = append(stopped, s)
	}
	clear(c.sources)
	c.mu.Unlock()

	for _, s := range stopped {
		s.fireEnded()
	}
	return nil
}

func quantize(s float32) int16 {
	v := s * 32768
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	}
	return int16(v)
}
