package playback

import (
	"sync"
	"time"
)

// Slot is the span of the timeline assigned to one enqueued buffer, in
// frames at the context rate. End is exclusive.
type Slot struct {
	Start int64
	End   int64
}

// Frames returns the slot length.
func (s Slot) Frames() int64 { return s.End - s.Start }

// Scheduler places buffers back to back on a [Context] timeline and tracks
// every source it started so they can all be silenced at once.
type Scheduler struct {
	ctx *Context

	mu     sync.Mutex
	cursor int64
	active map[*Source]struct{}
}

// NewScheduler creates a scheduler with its cursor at the start of the
// timeline.
func NewScheduler(ctx *Context) *Scheduler {
	return &Scheduler{
		ctx:    ctx,
		active: make(map[*Source]struct{}),
	}
}

// Context returns the timeline this scheduler writes to.
func (s *Scheduler) Context() *Context { return s.ctx }

// Enqueue schedules buf at the later of the cursor and the current playback
// position, then advances the cursor past it.
func (s *Scheduler) Enqueue(buf *Buffer) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.ctx.NewSource(buf)
	if err != nil {
		return Slot{}, err
	}
	src.OnEnded(func() { s.remove(src) })

	s.cursor = max(s.cursor, s.ctx.CurrentFrame())
	if err := src.StartAt(s.cursor); err != nil {
		return Slot{}, err
	}
	slot := Slot{Start: src.StartFrame(), End: src.EndFrame()}
	s.cursor = slot.End
	s.active[src] = struct{}{}
	return slot, nil
}

// Interrupt stops every source this scheduler started and resets the cursor
// to zero. It returns the number of sources that were still playing.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopping := make([]*Source, 0, len(s.active))
	for src := range s.active {
		stopping = append(stopping, src)
	}
	clear(s.active)
	s.cursor = 0
	s.mu.Unlock()

	n := 0
	for _, src := range stopping {
		if src.Playing() {
			n++
		}
		src.Stop()
	}
	return n
}

// Cursor returns the frame at which the next buffer would be scheduled if
// the timeline had not moved past it.
func (s *Scheduler) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// CursorTime returns Cursor as a timeline position.
func (s *Scheduler) CursorTime() time.Duration {
	return s.ctx.FrameDuration(s.Cursor())
}

// Pending returns the number of scheduled sources that have not ended.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) remove(src *Source) {
	s.mu.Lock()
	delete(s.active, src)
	s.mu.Unlock()
}
