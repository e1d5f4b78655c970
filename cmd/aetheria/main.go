// Command aetheria is a terminal voice assistant backed by the Gemini Live
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/aetheria/internal/app"
	"github.com/MrWong99/aetheria/internal/config"
	"github.com/MrWong99/aetheria/internal/observe"
	"github.com/MrWong99/aetheria/pkg/audio/device"
	"github.com/MrWong99/aetheria/pkg/live"
	"github.com/MrWong99/aetheria/pkg/live/gemini"
	"github.com/MrWong99/aetheria/pkg/live/genai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	input := flag.String("input", "", `audio input override: "microphone" or "wav:<path>"`)
	output := flag.String("output", "", `audio output override: "speaker", "discard" or "wav:<path>"`)
	autostart := flag.Bool("autostart", false, "start a session immediately")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err == nil {
		err = applyOverrides(cfg, *input, *output)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "aetheria: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("aetheria starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Live.Backend,
		"input", cfg.Audio.Input.Kind,
		"output", cfg.Audio.Output.Kind,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		Backend:        cfg.Live.Backend,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Live backend ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	connector, err := reg.CreateLive(cfg.Live)
	if err != nil {
		slog.Error("failed to create live backend", "err", err, "available", reg.Backends())
		return 1
	}

	// ── Audio endpoints ───────────────────────────────────────────────────────
	devices, err := device.NewFactory(device.Config{
		Input:        cfg.Audio.Input.Kind,
		InputPath:    cfg.Audio.Input.Path,
		Output:       cfg.Audio.Output.Kind,
		OutputPath:   cfg.Audio.Output.Path,
		OutputBuffer: time.Duration(cfg.Audio.Output.BufferMS) * time.Millisecond,
	})
	if err != nil {
		slog.Error("failed to configure audio", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, connector, devices, app.WithAutostart(*autostart))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the live connectors that ship with Aetheria
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterLive(config.BackendGeminiLive, func(entry config.LiveConfig) (live.Connector, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive(config.BackendGenAI, func(entry config.LiveConfig) (live.Connector, error) {
		var opts []genai.Option
		if entry.Model != "" {
			opts = append(opts, genai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(entry.BaseURL))
		}
		return genai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Backends() {
		slog.Debug("registered live backend", "name", name)
	}
}

// applyOverrides replaces the configured audio endpoints with the -input and
// -output flag values and validates the result again.
func applyOverrides(cfg *config.Config, input, output string) error {
	if input == "" && output == "" {
		return nil
	}
	if input != "" {
		cfg.Audio.Input.Kind, cfg.Audio.Input.Path = splitEndpoint(input)
	}
	if output != "" {
		cfg.Audio.Output.Kind, cfg.Audio.Output.Path = splitEndpoint(output)
	}
	return config.Validate(cfg)
}

// splitEndpoint parses "kind" or "kind:path".
func splitEndpoint(s string) (kind, path string) {
	kind, path, _ = strings.Cut(s, ":")
	return kind, path
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger logs as text to stderr, or as JSON to a rotated file when
// cfg.File is set. The returned function flushes and closes the file.
func newLogger(cfg config.LogConfig) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: cfg.Level.SlogLevel()}
	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}
	}

	var w io.WriteCloser = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return slog.New(slog.NewJSONHandler(w, opts)), func() { _ = w.Close() }
}
