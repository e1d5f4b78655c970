package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/aetheria/internal/assistant"
)

// Commander is the part of the assistant the controls drive.
type Commander interface {
	Toggle(ctx context.Context) error
	ToggleMute() error
}

// Controls reads one command per line:
//
//	<enter>, s   start or stop the session
//	m            mute or unmute the microphone
//	h, ?         show help
//	q            quit
type Controls struct {
	cmd Commander
	p   *Printer
	in  io.Reader
}

// NewControls returns controls reading from in and printing feedback
// through p.
func NewControls(cmd Commander, p *Printer, in io.Reader) *Controls {
	return &Controls{cmd: cmd, p: p, in: in}
}

// Run processes commands until q is entered or ctx is done. When input ends
// without q, Run keeps the session running until ctx is done. Session
// toggles run in the background so q can interrupt a pending connection.
func (c *Controls) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("ui: read commands", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				slog.Debug("ui: command input closed")
				<-ctx.Done()
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one command line and reports whether to quit.
func (c *Controls) handle(ctx context.Context, line string) bool {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "", "s":
		go func() {
			if err := c.cmd.Toggle(ctx); err != nil {
				// The assistant surfaces start failures in its snapshot.
				slog.Debug("ui: toggle session", "err", err)
			}
		}()
	case "m":
		if err := c.cmd.ToggleMute(); err != nil {
			if errors.Is(err, assistant.ErrNotActive) {
				c.say("Mute is only available during a session.")
			} else {
				c.say("Could not change mute: " + err.Error())
			}
		}
	case "h", "?", "help":
		c.help()
	case "q", "quit", "exit":
		return true
	default:
		c.say(fmt.Sprintf("Unknown command %q. Type h for help.", cmd))
	}
	return false
}

func (c *Controls) help() {
	c.say("Commands:")
	for _, l := range []string{
		"<enter>, s   start or stop the conversation",
		"m            mute or unmute the microphone",
		"h            show this help",
		"q            quit",
	} {
		if err := c.p.Writeln(l, 1); err != nil {
			slog.Warn("ui: print", "err", err)
		}
	}
}

func (c *Controls) say(s string) {
	if err := c.p.Writeln(s, 0); err != nil {
		slog.Warn("ui: print", "err", err)
	}
}
