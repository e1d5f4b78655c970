// Package assistant implements the voice assistant's session state machine.
//
// An [Assistant] owns at most one live session at a time. Starting a session
// acquires the input device, opens a playback timeline on the output sink,
// connects to the remote service and then streams captured frames upstream
// while scheduling response audio gaplessly. Transcription fragments are
// accumulated into the current input and output text and moved into the
// history when the remote side completes a turn.
//
// All exported methods are safe for concurrent use.
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

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultName             = "Aetheria"
	DefaultUserLabel        = "You"
	DefaultOutputSampleRate = audio.OutputSampleRate
	DefaultFrameSize        = audio.DefaultFrameSize
)

var (
	// ErrNotActive is returned by mute operations while no session is live.
	ErrNotActive = errors.New("assistant: session not active")

	// ErrBusy is returned by Start while a session is connecting or active.
	ErrBusy = errors.New("assistant: session already running")

	// ErrCanceled is returned by Start when Stop was called before the
	// session finished connecting.
	ErrCanceled = errors.New("assistant: start canceled")
)

// AudioIO opens the audio endpoints for one session.
type AudioIO interface {
	OpenInput(sampleRate int) (capture.Device, error)
	OpenOutput(sampleRate int) (playback.Sink, error)
}

// Config holds the assistant's session parameters.
type Config struct {
	// Live is passed to the connector unchanged, apart from a defaulted
	// InputSampleRate.
	Live live.Config

	// OutputSampleRate is the playback timeline rate. Response audio at
	// other rates is resampled.
	OutputSampleRate int

	// FrameSize is the number of samples per captured frame.
	FrameSize int

	// Name labels the assistant's turns in the history.
	Name string

	// UserLabel labels the user's turns in the history.
	UserLabel string
}

func (c *Config) applyDefaults() {
	if c.Live.InputSampleRate <= 0 {
		c.Live.InputSampleRate = live.DefaultInputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.UserLabel == "" {
		c.UserLabel = DefaultUserLabel
	}
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithMetrics records session and audio metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// Assistant drives live sessions and keeps the conversation transcript.
type Assistant struct {
	cfg       Config
	connector live.Connector
	audio     AudioIO
	metrics   *observe.Metrics

	// muted is read on the capture goroutine without taking mu.
	muted atomic.Bool

	mu        sync.Mutex
	state     State
	history   []Turn
	curInput  string
	curOutput string
	errMsg    string
	seq       uint64
	run       *run
	// closing is the run being torn down after it left a.run and before
	// the state returned to inactive.
	closing *run

	notifyMu  sync.Mutex
	delivered uint64

	lmu          sync.Mutex
	listeners    []listenerEntry
	nextListener int
}

// New creates an inactive Assistant.
func New(cfg Config, connector live.Connector, aio AudioIO, opts ...Option) *Assistant {
	cfg.applyDefaults()
	a := &Assistant{
		cfg:       cfg,
		connector: connector,
		audio:     aio,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Config returns the effective configuration.
func (a *Assistant) Config() Config { return a.cfg }

// State returns the current session state.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Toggle starts a session when inactive and stops it when active. It does
// nothing while a session is connecting.
func (a *Assistant) Toggle(ctx context.Context) error {
	switch a.State() {
	case StateInactive:
		return a.Start(ctx)
	case StateActive:
		return a.Stop()
	default:
		return nil
	}
}

// Start opens a new session. It clears the previous error, history and
// in-progress text, then moves through connecting to active. On failure the
// user-visible error is set, everything acquired so far is released and the
// state returns to inactive.
//
// ctx bounds the connection attempt only.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateInactive {
		a.mu.Unlock()
		return ErrBusy
	}
	connectCtx, cancel := context.WithCancel(ctx)
	r := newRun(cancel)
	a.run = r
	a.state = StateConnecting
	a.errMsg = ""
	a.history = nil
	a.curInput = ""
	a.curOutput = ""
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.emit(snap)

	started := time.Now()
	spanCtx, span := observe.StartSpan(connectCtx, "assistant.connect")
	log := observe.SessionLogger(spanCtx, r.id)
	log.Info("assistant: starting session", "model", a.cfg.Live.Model, "voice", a.cfg.Live.Voice)

	sess, err := a.open(spanCtx, r)
	span.End()

	if err == nil {
		a.mu.Lock()
		if a.run == r {
			r.activated = true
			a.state = StateActive
			snap = a.snapshotLocked()
			a.mu.Unlock()

			a.metrics.ConnectDuration.Record(context.Background(), time.Since(started).Seconds())
			a.metrics.RecordSessionStart(context.Background(), "ok")
			a.metrics.ActiveSessions.Add(context.Background(), 1)
			log.Info("assistant: session active", "connect_duration", time.Since(started))

			a.emit(snap)
			go a.receive(r, sess)
			return nil
		}
		a.mu.Unlock()
		err = ErrCanceled
	}

	a.mu.Lock()
	superseded := a.run != r
	if !superseded {
		a.run = nil
		a.closing = r
	}
	a.mu.Unlock()

	if superseded {
		// Stop owns the teardown and the state transition.
		r.teardown()
		a.metrics.RecordSessionStart(context.Background(), "cancelled")
		log.Info("assistant: start canceled")
		return ErrCanceled
	}

	r.teardown()
	a.metrics.RecordSessionStart(context.Background(), "error")
	log.Warn("assistant: failed to start session", "err", err)

	a.mu.Lock()
	a.state = StateInactive
	a.errMsg = "Failed to start session: " + err.Error()
	a.settleLocked(r)
	snap = a.snapshotLocked()
	a.mu.Unlock()
	a.emit(snap)
	close(r.done)

	return fmt.Errorf("assistant: start: %w", err)
}

// open acquires every resource of r in order: input device, playback
// timeline and sink, live session, capture stream.
func (a *Assistant) open(ctx context.Context, r *run) (live.Session, error) {
	mic, err := a.audio.OpenInput(a.cfg.Live.InputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("acquire microphone: %w", err)
	}
	if !r.attach(func() { r.mic = mic }) {
		_ = mic.Close()
		return nil, ErrCanceled
	}

	outCtx := playback.NewContext(a.cfg.OutputSampleRate)
	sched := playback.NewScheduler(outCtx)
	if !r.attach(func() { r.outCtx, r.sched = outCtx, sched }) {
		_ = outCtx.Close()
		return nil, ErrCanceled
	}

	sink, err := a.audio.OpenOutput(a.cfg.OutputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	if !r.attach(func() { r.sink = sink }) {
		_ = sink.Close()
		return nil, ErrCanceled
	}
	if err := sink.Play(outCtx); err != nil {
		return nil, fmt.Errorf("start playback: %w", err)
	}

	sess, err := a.connector.Connect(ctx, a.cfg.Live)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if !r.attach(func() { r.sess = sess }) {
		_ = sess.Close()
		return nil, ErrCanceled
	}

	stream, err := capture.Open(mic, a.cfg.FrameSize, a.frameHandler(r, sess))
	if err != nil {
		return nil, err
	}
	if !r.attach(func() { r.stream = stream }) {
		_ = stream.Close()
		return nil, ErrCanceled
	}
	return sess, nil
}

// Stop closes the current session and releases its audio resources. A
// connection attempt in progress is canceled. If the session is already
// being torn down after a remote close or failed start, Stop waits for that
// to finish. Calling Stop while inactive is a no-op. The state is inactive
// when Stop returns.
func (a *Assistant) Stop() error {
	a.mu.Lock()
	r := a.run
	a.run = nil
	if r != nil {
		a.closing = r
	}
	pending := a.closing
	a.mu.Unlock()
	if r == nil {
		if pending != nil {
			<-pending.done
		}
		return nil
	}

	r.teardown()
	a.finish(r, "stopped", nil)
	return nil
}

// finish moves the assistant to inactive after r has been torn down. A
// non-nil err becomes the user-visible error.
func (a *Assistant) finish(r *run, reason string, err error) {
	a.mu.Lock()
	a.state = StateInactive
	if err != nil {
		a.errMsg = "An error occurred: " + errorMessage(err)
	}
	a.settleLocked(r)
	activated := r.activated
	snap := a.snapshotLocked()
	a.mu.Unlock()
	defer close(r.done)

	if activated {
		a.metrics.RecordSessionEnd(context.Background(), reason)
		a.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("assistant: session ended", observe.SessionAttr(r.id), "reason", reason)
	a.emit(snap)
}

// settleLocked forgets r as the run being torn down. Callers must hold a.mu.
func (a *Assistant) settleLocked(r *run) {
	if a.closing == r {
		a.closing = nil
	}
}

// ToggleMute flips the mute flag of the active session.
func (a *Assistant) ToggleMute() error {
	return a.setMuted(func(m bool) bool { return !m })
}

// SetMuted sets the mute flag of the active session. While muted, captured
// frames are discarded instead of sent.
func (a *Assistant) SetMuted(muted bool) error {
	return a.setMuted(func(bool) bool { return muted })
}

func (a *Assistant) setMuted(next func(bool) bool) error {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return ErrNotActive
	}
	m := next(a.muted.Load())
	a.muted.Store(m)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	slog.Debug("assistant: mute changed", "muted", m)
	a.emit(snap)
	return nil
}

// Muted reports the mute flag. The flag survives session restarts.
func (a *Assistant) Muted() bool { return a.muted.Load() }

// errorMessage extracts the text shown to the user for a session error.
func errorMessage(err error) string {
	var le *live.Error
	if errors.As(err, &le) && le.Message != "" {
		return le.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}

// currentRun returns the live run, or nil.
func (a *Assistant) currentRun() *run {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}
