package ui

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/aetheria/internal/assistant"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\033[K"

// Terminal renders assistant snapshots as a scrolling transcript. Durable
// output (status changes, finished turns, errors) goes through the Printer;
// the in-progress transcript is redrawn in place on live, which should be a
// terminal.
type Terminal struct {
	p    *Printer
	live io.Writer
	name string

	mu          sync.Mutex
	rendered    bool
	state       assistant.State
	muted       bool
	turns       int
	partial     string
	partialOpen bool
	lastErr     string
}

// NewTerminal returns a renderer for the assistant called name. live may be
// nil to suppress the in-progress transcript.
func NewTerminal(p *Printer, live io.Writer, name string) *Terminal {
	return &Terminal{p: p, live: live, name: name}
}

// Render draws the difference between s and the previously rendered
// snapshot. It matches [assistant.Listener].
func (t *Terminal) Render(s assistant.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	first := !t.rendered
	t.rendered = true

	if first || s.State != t.state || s.Muted != t.muted {
		t.println(statusLine(s), 0)
		if s.State == assistant.StateInactive && (first || t.state != assistant.StateInactive) {
			t.banner()
		}
		if s.State == assistant.StateConnecting {
			t.turns = 0
		}
		t.state, t.muted = s.State, s.Muted
	}

	if len(s.History) < t.turns {
		t.turns = 0
	}
	for _, turn := range s.History[t.turns:] {
		text := turn.Text
		if text == "" {
			text = "…"
		}
		t.println(turn.Speaker+":", 1)
		t.println(text, 2)
	}
	t.turns = len(s.History)

	if s.Error != "" && s.Error != t.lastErr {
		t.println("⚠️  "+s.Error, 0)
	}
	t.lastErr = s.Error

	t.drawPartial(partialLine(s))
}

func (t *Terminal) banner() {
	t.println(fmt.Sprintf("👋 Hello! I'm %s.", t.name), 0)
	t.println("I'm your personal AI assistant. Press Enter to start our conversation. You can ask me anything!", 1)
	t.println("Type h for help.", 1)
}

// println prints a durable line, first clearing any in-progress transcript.
func (t *Terminal) println(s string, ind int) {
	t.clearPartial()
	if err := t.p.Writeln(s, ind); err != nil {
		slog.Warn("ui: print", "err", err)
	}
}

func (t *Terminal) drawPartial(line string) {
	if t.live == nil || (t.partialOpen && line == t.partial) || (!t.partialOpen && line == "") {
		return
	}
	t.clearPartial()
	t.partial = line
	if line == "" {
		return
	}
	if _, err := io.WriteString(t.live, line); err != nil {
		slog.Debug("ui: draw partial transcript", "err", err)
		return
	}
	t.partialOpen = true
}

func (t *Terminal) clearPartial() {
	if !t.partialOpen {
		return
	}
	t.partialOpen = false
	t.partial = ""
	if _, err := io.WriteString(t.live, clearLine); err != nil {
		slog.Debug("ui: clear partial transcript", "err", err)
	}
}

func statusLine(s assistant.Snapshot) string {
	var b strings.Builder
	switch s.State {
	case assistant.StateConnecting:
		b.WriteString("⏳ Connecting...")
	case assistant.StateActive:
		b.WriteString("🎤 Listening...")
	default:
		b.WriteString("⏸️  Inactive")
	}
	if s.Muted && s.State == assistant.StateActive {
		b.WriteString(" (muted)")
	}
	return b.String()
}

// partialLine formats the in-progress transcript on a single line.
func partialLine(s assistant.Snapshot) string {
	var parts []string
	if s.CurrentInput != "" {
		parts = append(parts, "› "+oneLine(s.CurrentInput))
	}
	if s.CurrentOutput != "" {
		parts = append(parts, "‹ "+oneLine(s.CurrentOutput))
	}
	return strings.Join(parts, "  ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
