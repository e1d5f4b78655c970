// Package app wires the Aetheria subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the assistant, the
// terminal front end and the optional HTTP server, Run executes the command
// loop, and Shutdown tears everything down in order.
//
// For testing, inject in-memory readers and writers via functional options
// (WithInput, WithOutput, etc.). The live connector and the audio endpoints
// are always passed in, so tests can use mocks for both.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aetheria/internal/assistant"
	"github.com/MrWong99/aetheria/internal/config"
	"github.com/MrWong99/aetheria/internal/health"
	"github.com/MrWong99/aetheria/internal/observe"
	"github.com/MrWong99/aetheria/internal/ui"
	"github.com/MrWong99/aetheria/pkg/live"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	asst     *assistant.Assistant
	printer  *ui.Printer
	controls *ui.Controls
	server   *http.Server

	// Injected or defaulted in New.
	in        io.Reader
	out       io.Writer
	live      io.Writer
	liveSet   bool
	gatherer  prometheus.Gatherer
	metrics   *observe.Metrics
	autostart bool

	unsubscribe func()

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithInput reads commands from r instead of os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput writes the transcript to w instead of os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLiveOutput redraws the in-progress transcript on w. Nil disables it.
// Defaults to the transcript output.
func WithLiveOutput(w io.Writer) Option {
	return func(a *App) { a.live, a.liveSet = w, true }
}

// WithGatherer serves g on /metrics instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithMetrics passes m through to the assistant and the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAutostart starts a session as soon as Run begins, for headless runs
// with file input.
func WithAutostart(on bool) Option {
	return func(a *App) { a.autostart = on }
}

// New creates an App from cfg. connector dials the live service and aio
// opens the audio endpoints for every session.
func New(cfg *config.Config, connector live.Connector, aio assistant.AudioIO, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		in:  os.Stdin,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if !a.liveSet {
		a.live = a.out
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript printer ───────────────────────────────────────────
	// The plain-writer wrapper keeps Printer.Close away from stdout.
	hooks := []io.Writer{struct{ io.Writer }{a.out}}
	if path := cfg.Assistant.TranscriptFile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("app: open transcript file: %w", err)
		}
		hooks = append(hooks, f)
	}
	p, err := ui.NewPrinter("  ", hooks...)
	if err != nil {
		return nil, fmt.Errorf("app: init printer: %w", err)
	}
	a.printer = p
	a.closers = append(a.closers, p.Close)

	// ── 2. Assistant ────────────────────────────────────────────────────
	a.asst = assistant.New(assistant.Config{
		Live:             cfg.SessionConfig(),
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		FrameSize:        cfg.Audio.FrameSize,
		Name:             cfg.Assistant.Name,
		UserLabel:        cfg.Assistant.UserLabel,
	}, connector, aio, assistant.WithMetrics(a.metrics))

	// ── 3. Terminal front end ───────────────────────────────────────────
	term := ui.NewTerminal(p, a.live, a.asst.Config().Name)
	a.unsubscribe = a.asst.Subscribe(term.Render)
	term.Render(a.asst.Snapshot())
	a.controls = ui.NewControls(a.asst, p, a.in)

	// ── 4. HTTP server (optional) ───────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	slog.Info("app initialised",
		"backend", cfg.Live.Backend,
		"model", cfg.Live.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)
	return a, nil
}

// Assistant returns the session controller.
func (a *App) Assistant() *assistant.Assistant { return a.asst }

// Status is the /statusz payload.
type Status struct {
	State   string `json:"state"`
	Muted   bool   `json:"muted"`
	Turns   int    `json:"turns"`
	Error   string `json:"error,omitempty"`
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// Status reports the assistant's current state.
func (a *App) Status() Status {
	s := a.asst.Snapshot()
	return Status{
		State:   s.State.String(),
		Muted:   s.Muted,
		Turns:   len(s.History),
		Error:   s.Error,
		Backend: a.cfg.Live.Backend,
		Model:   a.cfg.Live.Model,
	}
}

// Handler builds the health, status and metrics routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			s := a.asst.Snapshot()
			if s.State == assistant.StateInactive && s.Error != "" {
				return errors.New(s.Error)
			}
			return nil
		},
	}).WithStatus(func() any { return a.Status() }).Register(mux)

	if a.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves commands until the user quits or ctx is cancelled. The HTTP
// server, when configured, runs alongside and is stopped on return.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.autostart {
		g.Go(func() error {
			if err := a.asst.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		return a.controls.Run(gctx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session and releases everything New acquired.
// If ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Release the audio devices and the session first.
		if err := a.asst.Stop(); err != nil {
			slog.Warn("assistant stop error", "err", err)
		}
		a.unsubscribe()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
