package playback

import (
	"sync"
	"time"
)

type sourceState int

const (
	sourceIdle sourceState = iota
	sourcePlaying
	sourceEnded
)

// Source is one buffer placed on a [Context] timeline. A source can be
// started once; it ends when its last frame has been rendered, when Stop is
// called, or when the context closes. The ended callback fires exactly once
// in every case.
type Source struct {
	ctx *Context
	buf *Buffer

	// Guarded by ctx.mu.
	start int64
	state sourceState

	endedOnce sync.Once
	cbMu      sync.Mutex
	onEnded   func()
}

// OnEnded registers fn to run once the source stops producing audio. It must
// be set before Start to be guaranteed to observe the end.
func (s *Source) OnEnded(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onEnded = fn
}

// StartAt schedules the source to begin at the absolute timeline frame. A
// frame already rendered is moved to the current frame, so playback starts
// immediately.
func (s *Source) StartAt(frame int64) error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if s.state != sourceIdle {
		return ErrAlreadyStarted
	}
	s.start = max(frame, c.frame)
	s.state = sourcePlaying
	c.sources[s] = struct{}{}
	return nil
}

// Start schedules the source at an absolute timeline position.
func (s *Source) Start(at time.Duration) error {
	return s.StartAt(int64(at) * int64(s.ctx.rate) / int64(time.Second))
}

// Stop silences the source immediately. Stopping an idle or already ended
// source is a no-op apart from marking it ended.
func (s *Source) Stop() {
	c := s.ctx
	c.mu.Lock()
	if s.state == sourceEnded {
		c.mu.Unlock()
		return
	}
	wasPlaying := s.state == sourcePlaying
	delete(c.sources, s)
	s.state = sourceEnded
	c.mu.Unlock()

	if wasPlaying {
		s.fireEnded()
	}
}

// StartFrame returns the frame at which the source begins. Only meaningful
// after StartAt.
func (s *Source) StartFrame() int64 {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.start
}

// EndFrame returns the first frame after the source's last sample.
func (s *Source) EndFrame() int64 {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.end()
}

// Playing reports whether the source is started and has not ended.
func (s *Source) Playing() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.state == sourcePlaying
}

// end must be called with ctx.mu held.
func (s *Source) end() int64 {
	return s.start + int64(len(s.buf.Samples))
}

func (s *Source) fireEnded() {
	s.endedOnce.Do(func() {
		s.cbMu.Lock()
		fn := s.onEnded
		s.cbMu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
