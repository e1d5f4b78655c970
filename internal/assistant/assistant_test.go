package assistant

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/aetheria/internal/observe"
	"github.com/MrWong99/aetheria/pkg/audio"
	"github.com/MrWong99/aetheria/pkg/audio/capture"
	"github.com/MrWong99/aetheria/pkg/audio/playback"
	"github.com/MrWong99/aetheria/pkg/live"
	"github.com/MrWong99/aetheria/pkg/live/mock"
)

// ─── Test doubles ────────────────────────────────────────────────────────────

type fakeDevice struct {
	mu     sync.Mutex
	fn     func([]float32)
	closed int
}

func (d *fakeDevice) Start(fn func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) push(samples []float32) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeSink struct {
	mu     sync.Mutex
	played io.Reader
	closed int
	// gate, when set, holds Close until it is closed.
	gate chan struct{}
}

func (s *fakeSink) Play(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = r
	return nil
}

func (s *fakeSink) Close() error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeIO struct {
	mu       sync.Mutex
	devices  []*fakeDevice
	sinks    []*fakeSink
	inErr    error
	outErr   error
	inRates  []int
	outRates []int
	sinkGate chan struct{}
}

func (f *fakeIO) OpenInput(rate int) (capture.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inRates = append(f.inRates, rate)
	if f.inErr != nil {
		return nil, f.inErr
	}
	d := &fakeDevice{}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeIO) OpenOutput(rate int) (playback.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outRates = append(f.outRates, rate)
	if f.outErr != nil {
		return nil, f.outErr
	}
	s := &fakeSink{gate: f.sinkGate}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func (f *fakeIO) device(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[i]
}

func (f *fakeIO) sink(i int) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[i]
}

// stateRecorder collects the distinct consecutive states seen by a listener.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.states); n > 0 && r.states[n-1] == s.State {
		return
	}
	r.states = append(r.states, s.State)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func newTestAssistant(t *testing.T, c *mock.Connector) (*Assistant, *fakeIO) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	aio := &fakeIO{}
	a := New(Config{Live: live.Config{Model: "test-model", Voice: "Zephyr"}}, c, aio, WithMetrics(m))
	t.Cleanup(func() { _ = a.Stop() })
	return a, aio
}

func startActive(t *testing.T, a *Assistant, c *mock.Connector) *mock.Session {
	t.Helper()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := c.Last()
	if sess == nil {
		t.Fatal("connector handed out no session")
	}
	return sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func audioBlob(n, rate int) live.Blob {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return live.NewAudioBlob(audio.Float32ToPCM16(samples), rate)
}

func frame(n int) []float32 {
	return make([]float32, n)
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestStart_PassesThroughConnecting(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	rec := &stateRecorder{}
	a.Subscribe(rec.listen)

	startActive(t, a, c)

	want := []State{StateConnecting, StateActive}
	if got := rec.get(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if a.State() != StateActive {
		t.Errorf("State() = %v, want active", a.State())
	}

	call := c.ConnectCalls[0]
	if call.Cfg.Model != "test-model" || call.Cfg.Voice != "Zephyr" {
		t.Errorf("connect config = %+v", call.Cfg)
	}
	if call.Cfg.InputSampleRate != live.DefaultInputSampleRate {
		t.Errorf("InputSampleRate = %d, want %d", call.Cfg.InputSampleRate, live.DefaultInputSampleRate)
	}
	if aio.inRates[0] != 16000 || aio.outRates[0] != 24000 {
		t.Errorf("rates in=%v out=%v, want 16000/24000", aio.inRates, aio.outRates)
	}
	if aio.sink(0).played == nil {
		t.Error("output sink was not started")
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	c := &mock.Connector{ConnectErr: errors.New("dial refused")}
	a, aio := newTestAssistant(t, c)
	rec := &stateRecorder{}
	a.Subscribe(rec.listen)

	err := a.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if !strings.Contains(err.Error(), "dial refused") {
		t.Errorf("err = %v, want wrapped connect error", err)
	}

	want := []State{StateConnecting, StateInactive}
	if got := rec.get(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	snap := a.Snapshot()
	if snap.Error != "Failed to start session: connect: dial refused" {
		t.Errorf("Error = %q", snap.Error)
	}
	if got := aio.device(0).closeCount(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if got := aio.sink(0).closeCount(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
}

func TestStart_InputFailure(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	aio.inErr = errors.New("permission denied")

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if got := a.Snapshot().Error; got != "Failed to start session: acquire microphone: permission denied" {
		t.Errorf("Error = %q", got)
	}
	if c.CallCount() != 0 {
		t.Errorf("Connect called %d times, want 0", c.CallCount())
	}
	if a.State() != StateInactive {
		t.Errorf("State() = %v, want inactive", a.State())
	}
}

func TestStart_OutputFailureReleasesInput(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	aio.outErr = errors.New("no speaker")

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if got := aio.device(0).closeCount(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if c.CallCount() != 0 {
		t.Errorf("Connect called %d times, want 0", c.CallCount())
	}
}

func TestStart_WhileRunning(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	startActive(t, a, c)

	if err := a.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start err = %v, want ErrBusy", err)
	}
	if c.CallCount() != 1 {
		t.Errorf("Connect called %d times, want 1", c.CallCount())
	}
}

func TestStart_ClearsPreviousSession(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)

	sess := startActive(t, a, c)
	sess.Emit(&live.ServerMessage{InputTranscription: "hi", OutputTranscription: "hello"})
	sess.Emit(&live.ServerMessage{TurnComplete: true})
	sess.Emit(&live.ServerMessage{InputTranscription: "pending"})
	waitFor(t, "pending input", func() bool { return a.Snapshot().CurrentInput == "pending" })
	sess.End(&live.Error{Message: "gone"})
	waitFor(t, "inactive", func() bool { return a.State() == StateInactive })

	startActive(t, a, c)
	snap := a.Snapshot()
	if len(snap.History) != 0 || snap.CurrentInput != "" || snap.CurrentOutput != "" || snap.Error != "" {
		t.Errorf("snapshot after restart = %+v, want cleared", snap)
	}
}

func TestStop_Idempotent(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop while inactive: %v", err)
	}

	sess := startActive(t, a, c)
	for i := range 3 {
		if err := a.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if a.State() != StateInactive {
		t.Errorf("State() = %v, want inactive", a.State())
	}
	if got := sess.CloseCount(); got != 1 {
		t.Errorf("session closed %d times, want 1", got)
	}
	if got := aio.device(0).closeCount(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if got := aio.sink(0).closeCount(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
	if got := a.Snapshot().Error; got != "" {
		t.Errorf("Error = %q, want empty after user stop", got)
	}
}

func TestStop_ConcurrentCalls(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() { _ = a.Stop() })
	}
	wg.Wait()

	waitFor(t, "inactive", func() bool { return a.State() == StateInactive })
	if got := sess.CloseCount(); got != 1 {
		t.Errorf("session closed %d times, want 1", got)
	}
}

func TestStop_CancelsConnect(t *testing.T) {
	c := &mock.Connector{Gate: make(chan struct{})}
	a, aio := newTestAssistant(t, c)

	errc := make(chan error, 1)
	go func() { errc <- a.Start(context.Background()) }()
	waitFor(t, "connecting", func() bool { return c.CallCount() == 1 })
	if a.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", a.State())
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("Start err = %v, want ErrCanceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if a.State() != StateInactive {
		t.Errorf("State() = %v, want inactive", a.State())
	}
	if got := a.Snapshot().Error; got != "" {
		t.Errorf("Error = %q, want empty", got)
	}
	if got := aio.device(0).closeCount(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
}

func TestToggle(t *testing.T) {
	c := &mock.Connector{Gate: make(chan struct{})}
	a, _ := newTestAssistant(t, c)

	errc := make(chan error, 1)
	go func() { errc <- a.Toggle(context.Background()) }()
	waitFor(t, "connecting", func() bool { return c.CallCount() == 1 })

	// Toggling while connecting does nothing.
	if err := a.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle while connecting: %v", err)
	}
	if a.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", a.State())
	}

	close(c.Gate)
	if err := <-errc; err != nil {
		t.Fatalf("Toggle start: %v", err)
	}
	if a.State() != StateActive {
		t.Fatalf("State() = %v, want active", a.State())
	}

	if err := a.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle stop: %v", err)
	}
	if a.State() != StateInactive {
		t.Errorf("State() = %v, want inactive", a.State())
	}
	if c.CallCount() != 1 {
		t.Errorf("Connect called %d times, want 1", c.CallCount())
	}
}

// ─── Capture ─────────────────────────────────────────────────────────────────

func TestFrames_SentAsPCM16(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	dev := aio.device(0)
	dev.push(frame(DefaultFrameSize / 2))
	if len(sess.Sent()) != 0 {
		t.Fatal("partial frame was sent")
	}
	dev.push(frame(DefaultFrameSize / 2))

	sent := sess.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d blobs, want 1", len(sent))
	}
	if sent[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", sent[0].MIMEType)
	}
	pcm, err := sent[0].Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != DefaultFrameSize*2 {
		t.Errorf("payload = %d bytes, want %d", len(pcm), DefaultFrameSize*2)
	}
}

func TestMute_DropsFramesWithoutStoppingCapture(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	dev := aio.device(0)

	dev.push(frame(DefaultFrameSize))
	if err := a.SetMuted(true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	dev.push(frame(DefaultFrameSize))
	dev.push(frame(DefaultFrameSize))

	if got := len(sess.Sent()); got != 1 {
		t.Errorf("sent %d blobs while muted, want 1", got)
	}
	if a.State() != StateActive || sess.Ended() || dev.closeCount() != 0 {
		t.Error("muting affected the session or the device")
	}
	if !a.Snapshot().Muted {
		t.Error("snapshot not muted")
	}

	if err := a.ToggleMute(); err != nil {
		t.Fatalf("ToggleMute: %v", err)
	}
	dev.push(frame(DefaultFrameSize))
	if got := len(sess.Sent()); got != 2 {
		t.Errorf("sent %d blobs after unmute, want 2", got)
	}
}

func TestMute_RequiresActiveSession(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)

	if err := a.ToggleMute(); !errors.Is(err, ErrNotActive) {
		t.Errorf("ToggleMute err = %v, want ErrNotActive", err)
	}
	if err := a.SetMuted(true); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetMuted err = %v, want ErrNotActive", err)
	}
	if a.Muted() {
		t.Error("mute flag changed while inactive")
	}
}

func TestMute_SurvivesRestart(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)

	startActive(t, a, c)
	if err := a.SetMuted(true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	_ = a.Stop()

	sess := startActive(t, a, c)
	if !a.Muted() {
		t.Fatal("mute flag reset by restart")
	}
	aio.device(1).push(frame(DefaultFrameSize))
	if got := len(sess.Sent()); got != 0 {
		t.Errorf("sent %d blobs while muted, want 0", got)
	}
}

func TestSendErrorsAreDropped(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sess.SetSendErr(errors.New("write: broken pipe"))

	aio.device(0).push(frame(DefaultFrameSize))
	aio.device(0).push(frame(DefaultFrameSize))

	if a.State() != StateActive {
		t.Errorf("State() = %v, want active after send errors", a.State())
	}
	if got := a.Snapshot().Error; got != "" {
		t.Errorf("Error = %q, want empty", got)
	}
}

func TestFramesAfterStopAreDropped(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	_ = a.Stop()

	aio.device(0).push(frame(DefaultFrameSize))
	if got := len(sess.Sent()); got != 0 {
		t.Errorf("sent %d blobs after stop, want 0", got)
	}
}

// ─── Server messages ─────────────────────────────────────────────────────────

func TestTurnComplete_AppendsPair(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	sess.Emit(&live.ServerMessage{InputTranscription: "What's the "})
	sess.Emit(&live.ServerMessage{InputTranscription: "weather?"})
	sess.Emit(&live.ServerMessage{OutputTranscription: "Sunny."})
	waitFor(t, "partial transcript", func() bool {
		s := a.Snapshot()
		return s.CurrentInput == "What's the weather?" && s.CurrentOutput == "Sunny."
	})

	sess.Emit(&live.ServerMessage{TurnComplete: true})
	waitFor(t, "history", func() bool { return len(a.Snapshot().History) == 2 })

	snap := a.Snapshot()
	want := []Turn{
		{Speaker: "You", Text: "What's the weather?"},
		{Speaker: "Aetheria", Text: "Sunny."},
	}
	for i, turn := range want {
		if snap.History[i] != turn {
			t.Errorf("History[%d] = %+v, want %+v", i, snap.History[i], turn)
		}
	}
	if snap.CurrentInput != "" || snap.CurrentOutput != "" {
		t.Errorf("current text not cleared: %q / %q", snap.CurrentInput, snap.CurrentOutput)
	}
}

func TestTurnComplete_EmptyTurnNotRecorded(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	sess.Emit(&live.ServerMessage{TurnComplete: true})
	sess.Emit(&live.ServerMessage{OutputTranscription: "Hello!"})
	sess.Emit(&live.ServerMessage{TurnComplete: true})
	waitFor(t, "history", func() bool { return len(a.Snapshot().History) > 0 })

	snap := a.Snapshot()
	if len(snap.History) != 2 {
		t.Fatalf("History = %+v, want one pair", snap.History)
	}
	if snap.History[0] != (Turn{Speaker: "You", Text: ""}) {
		t.Errorf("History[0] = %+v, want empty user turn", snap.History[0])
	}
	if snap.History[1] != (Turn{Speaker: "Aetheria", Text: "Hello!"}) {
		t.Errorf("History[1] = %+v", snap.History[1])
	}
}

func TestTurnComplete_InSameMessageAsTranscript(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	sess.Emit(&live.ServerMessage{InputTranscription: "bye", TurnComplete: true})
	waitFor(t, "history", func() bool { return len(a.Snapshot().History) == 2 })
	if got := a.Snapshot().History[0].Text; got != "bye" {
		t.Errorf("user turn = %q, want %q", got, "bye")
	}
}

func TestAudio_ScheduledBackToBack(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sched := a.currentRun().scheduler()

	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(2400, 24000)}})
	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(1200, 24000), audioBlob(600, 24000)}})
	waitFor(t, "three chunks", func() bool { return sched.Cursor() == 4200 })

	if got := sched.Pending(); got != 3 {
		t.Errorf("Pending() = %d, want 3", got)
	}
}

func TestAudio_ResampledToOutputRate(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sched := a.currentRun().scheduler()

	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(1600, 16000)}})
	waitFor(t, "resampled chunk", func() bool { return sched.Cursor() == 2400 })
}

func TestAudio_StereoFoldedToMono(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sched := a.currentRun().scheduler()

	// 1200 interleaved stereo frames at 48 kHz are 600 mono frames at 24 kHz.
	stereo := audioBlob(2400, 48000)
	stereo.MIMEType += ";channels=2"
	sess.Emit(&live.ServerMessage{Audio: []live.Blob{stereo}})
	waitFor(t, "downmixed chunk", func() bool { return sched.Cursor() == 600 })
}

func TestAudio_NonAudioPartsSkipped(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sched := a.currentRun().scheduler()

	sess.Emit(&live.ServerMessage{Audio: []live.Blob{
		{MIMEType: "text/plain", Data: "aGk="},
		{MIMEType: "audio/pcm;rate=24000", Data: "not base64!"},
	}})
	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(10, 24000)}})
	waitFor(t, "valid chunk", func() bool { return sched.Cursor() == 10 })
	if got := sched.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestInterrupted_StopsPlaybackAndResetsCursor(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)
	sess := startActive(t, a, c)
	sched := a.currentRun().scheduler()

	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(2400, 24000), audioBlob(2400, 24000)}})
	waitFor(t, "scheduled audio", func() bool { return sched.Pending() == 2 })

	sess.Emit(&live.ServerMessage{Interrupted: true})
	waitFor(t, "interrupt", func() bool { return sched.Pending() == 0 && sched.Cursor() == 0 })

	if a.State() != StateActive {
		t.Errorf("State() = %v, want active after interruption", a.State())
	}

	// Audio after the interruption starts from the render clock again.
	sess.Emit(&live.ServerMessage{Audio: []live.Blob{audioBlob(100, 24000)}})
	waitFor(t, "new audio", func() bool { return sched.Cursor() == 100 })
}

// ─── Session end ─────────────────────────────────────────────────────────────

func TestRemoteClose_TearsDown(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	sess := startActive(t, a, c)

	sess.End(nil)
	waitFor(t, "inactive", func() bool { return a.State() == StateInactive })

	if got := a.Snapshot().Error; got != "" {
		t.Errorf("Error = %q, want empty on clean close", got)
	}
	waitFor(t, "device release", func() bool { return aio.device(0).closeCount() == 1 })
	if got := aio.sink(0).closeCount(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop after remote close: %v", err)
	}
}

func TestStop_WaitsForRemoteCloseTeardown(t *testing.T) {
	c := &mock.Connector{}
	a, aio := newTestAssistant(t, c)
	gate := make(chan struct{})
	aio.sinkGate = gate
	sess := startActive(t, a, c)

	sess.End(nil)
	waitFor(t, "teardown start", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.run == nil && a.closing != nil
	})

	stopped := make(chan error, 1)
	go func() { stopped <- a.Stop() }()
	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v while the sink was still closing", err)
	case <-time.After(50 * time.Millisecond):
	}
	if a.State() != StateActive {
		t.Fatalf("State() = %v during teardown, want active", a.State())
	}

	close(gate)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after teardown finished")
	}
	if a.State() != StateInactive {
		t.Errorf("State() after Stop = %v, want inactive", a.State())
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if a.State() != StateInactive {
		t.Errorf("State() after second Stop = %v, want inactive", a.State())
	}
	if got := aio.sink(0).closeCount(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
}

func TestSessionError_Surfaced(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"remote error", &live.Error{Code: 1011, Message: "Internal error"}, "An error occurred: Internal error"},
		{"transport error", errors.New("gemini: read: connection reset"), "An error occurred: gemini: read: connection reset"},
		{"empty message", errors.New(""), "An error occurred: Unknown error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &mock.Connector{}
			a, _ := newTestAssistant(t, c)
			sess := startActive(t, a, c)
			rec := &stateRecorder{}
			a.Subscribe(rec.listen)

			sess.End(tc.err)
			waitFor(t, "inactive", func() bool { return a.State() == StateInactive })

			if got := a.Snapshot().Error; got != tc.want {
				t.Errorf("Error = %q, want %q", got, tc.want)
			}
			if got := rec.get(); !equalStates(got, []State{StateInactive}) {
				t.Errorf("states = %v, want [inactive]", got)
			}
		})
	}
}

func TestSupersededRunIgnored(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)

	startActive(t, a, c)
	old := a.currentRun()
	_ = a.Stop()
	startActive(t, a, c)

	a.handleMessage(old, &live.ServerMessage{InputTranscription: "stale", TurnComplete: true})
	snap := a.Snapshot()
	if len(snap.History) != 0 || snap.CurrentInput != "" {
		t.Errorf("stale message applied: %+v", snap)
	}
	if a.State() != StateActive {
		t.Errorf("State() = %v, want active", a.State())
	}
}

// ─── Listeners ───────────────────────────────────────────────────────────────

func TestSubscribe_SeqIncreases(t *testing.T) {
	c := &mock.Connector{}
	a, _ := newTestAssistant(t, c)

	var (
		mu   sync.Mutex
		seqs []uint64
	)
	unsubscribe := a.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, s.Seq)
	})

	sess := startActive(t, a, c)
	for _, text := range []string{"a", "b", "c"} {
		sess.Emit(&live.ServerMessage{OutputTranscription: text})
	}
	waitFor(t, "transcript", func() bool { return a.Snapshot().CurrentOutput == "abc" })
	unsubscribe()
	_ = a.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 5 {
		t.Fatalf("got %d snapshots, want 5 (connecting, active, 3 transcripts)", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("seq %d after %d", seqs[i], seqs[i-1])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateInactive, "inactive"},
		{StateConnecting, "connecting"},
		{StateActive, "active"},
		{State(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{}, &mock.Connector{}, &fakeIO{})
	cfg := a.Config()
	if cfg.Name != "Aetheria" || cfg.UserLabel != "You" {
		t.Errorf("labels = %q/%q", cfg.Name, cfg.UserLabel)
	}
	if cfg.OutputSampleRate != 24000 || cfg.FrameSize != 4096 || cfg.Live.InputSampleRate != 16000 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
