package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/aetheria/internal/observe"
	"github.com/MrWong99/aetheria/pkg/audio"
	"github.com/MrWong99/aetheria/pkg/audio/capture"
	"github.com/MrWong99/aetheria/pkg/audio/playback"
	"github.com/MrWong99/aetheria/pkg/live"
)

var runSeq atomic.Uint64

// run holds the resources of one session attempt. Fields are acquired one by
// one while connecting and released together by teardown.
type run struct {
	id     string
	cancel context.CancelFunc
	// done is closed once the assistant is inactive again after r ended.
	done chan struct{}

	// activated is guarded by Assistant.mu.
	activated bool

	mu     sync.Mutex
	torn   bool
	mic    capture.Device
	stream *capture.Stream
	outCtx *playback.Context
	sched  *playback.Scheduler
	sink   playback.Sink
	sess   live.Session
}

func newRun(cancel context.CancelFunc) *run {
	return &run{
		id: fmt.Sprintf("session-%s-%d",
			time.Now().UTC().Format("20060102T150405Z"), runSeq.Add(1)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// attach runs set under r.mu unless r was already torn down. A false result
// means the caller still owns the resource and must release it.
func (r *run) attach(set func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.torn {
		return false
	}
	set()
	return true
}

func (r *run) scheduler() *playback.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sched
}

// teardown stops scheduled audio, disconnects capture, closes the playback
// timeline and sink, releases the input device and closes the session. It
// is safe to call repeatedly; each call releases whatever is still held.
func (r *run) teardown() {
	r.cancel()

	r.mu.Lock()
	r.torn = true
	sched, stream, outCtx, sink, mic, sess := r.sched, r.stream, r.outCtx, r.sink, r.mic, r.sess
	r.sched, r.stream, r.outCtx, r.sink, r.mic, r.sess = nil, nil, nil, nil, nil, nil
	r.mu.Unlock()

	if sched != nil {
		sched.Interrupt()
	}
	if stream != nil {
		stream.Stop()
	}
	if outCtx != nil {
		_ = outCtx.Close()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Debug("assistant: close output", observe.SessionAttr(r.id), "err", err)
		}
	}
	switch {
	case stream != nil:
		if err := stream.Close(); err != nil {
			slog.Debug("assistant: close input", observe.SessionAttr(r.id), "err", err)
		}
	case mic != nil:
		if err := mic.Close(); err != nil {
			slog.Debug("assistant: close input", observe.SessionAttr(r.id), "err", err)
		}
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Debug("assistant: close session", observe.SessionAttr(r.id), "err", err)
		}
	}
}

// frameHandler returns the capture callback for r. Muted frames are dropped;
// the rest are sent as PCM16 blobs. Send failures are logged and the frame is
// lost.
func (a *Assistant) frameHandler(r *run, sess live.Session) capture.FrameHandler {
	rate := a.cfg.Live.InputSampleRate
	return func(frame []float32) {
		ctx := context.Background()
		if a.muted.Load() {
			a.metrics.RecordFrameDropped(ctx, "muted")
			return
		}
		blob := live.NewAudioBlob(audio.Float32ToPCM16(frame), rate)
		if err := sess.SendRealtimeInput(blob); err != nil {
			a.metrics.RecordFrameDropped(ctx, "send_error")
			if !errors.Is(err, live.ErrSessionClosed) {
				slog.Warn("assistant: send audio frame", observe.SessionAttr(r.id), "err", err)
			}
			return
		}
		a.metrics.FramesSent.Add(ctx, 1)
	}
}

// receive handles server messages of r in arrival order until the session
// ends, then tears r down unless it was already superseded.
func (a *Assistant) receive(r *run, sess live.Session) {
	for msg := range sess.Messages() {
		a.handleMessage(r, msg)
	}

	err := sess.Err()
	a.mu.Lock()
	current := a.run == r
	if current {
		a.run = nil
		a.closing = r
	}
	a.mu.Unlock()
	if !current {
		return
	}

	r.teardown()
	reason := "remote_close"
	if err != nil {
		reason = "error"
		slog.Warn("assistant: session error", observe.SessionAttr(r.id), "err", err)
	}
	a.finish(r, reason, err)
}

// handleMessage applies one server message: transcription, turn completion,
// interruption and response audio, in that order.
func (a *Assistant) handleMessage(r *run, msg *live.ServerMessage) {
	if msg == nil {
		return
	}

	a.mu.Lock()
	if a.run != r {
		a.mu.Unlock()
		return
	}
	changed := false
	if msg.InputTranscription != "" {
		a.curInput += msg.InputTranscription
		changed = true
	}
	if msg.OutputTranscription != "" {
		a.curOutput += msg.OutputTranscription
		changed = true
	}
	turns := 0
	if msg.TurnComplete {
		if a.curInput != "" || a.curOutput != "" {
			a.history = append(a.history,
				Turn{Speaker: a.cfg.UserLabel, Text: a.curInput},
				Turn{Speaker: a.cfg.Name, Text: a.curOutput},
			)
			turns = 2
		}
		a.curInput = ""
		a.curOutput = ""
		changed = true
	}
	var snap Snapshot
	if changed {
		snap = a.snapshotLocked()
	}
	a.mu.Unlock()

	if changed {
		a.emit(snap)
	}
	if turns > 0 {
		a.metrics.TurnsCompleted.Add(context.Background(), int64(turns))
	}

	sched := r.scheduler()
	if sched == nil {
		return
	}
	if msg.Interrupted {
		n := sched.Interrupt()
		a.metrics.Interruptions.Add(context.Background(), 1)
		slog.Debug("assistant: interrupted", observe.SessionAttr(r.id), "stopped_sources", n)
	}
	for _, blob := range msg.Audio {
		a.playAudio(r, sched, blob)
	}
}

// playAudio decodes blob and schedules it right after the previous chunk.
func (a *Assistant) playAudio(r *run, sched *playback.Scheduler, blob live.Blob) {
	if blob.MIMEType != "" && !blob.IsAudio() {
		slog.Debug("assistant: skipping non-audio part", observe.SessionAttr(r.id), "mime_type", blob.MIMEType)
		return
	}
	pcm, err := blob.Decode()
	if err != nil {
		slog.Warn("assistant: decode response audio", observe.SessionAttr(r.id), "err", err)
		return
	}
	outRate := a.cfg.OutputSampleRate
	pcm = audio.Adapt(pcm, blob.Format(outRate), outRate)
	samples := audio.PCM16ToFloat32(pcm)
	if len(samples) == 0 {
		return
	}

	buf := playback.NewBuffer(samples, outRate)
	slot, err := sched.Enqueue(buf)
	if err != nil {
		if !errors.Is(err, playback.ErrClosed) {
			slog.Warn("assistant: schedule response audio", observe.SessionAttr(r.id), "err", err)
		}
		return
	}
	a.metrics.RecordResponseChunk(context.Background(), buf.Duration().Seconds())
	slog.Debug("assistant: scheduled response audio",
		observe.SessionAttr(r.id), "start_frame", slot.Start, "end_frame", slot.End)
}
