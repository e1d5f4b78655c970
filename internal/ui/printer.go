// Package ui implements Aetheria's terminal front end: a transcript renderer
// fed by assistant snapshots and a line-oriented command reader.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer writes indented lines to every hook. It is safe for concurrent
// use.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []io.Writer
}

// NewPrinter returns a printer that indents with indentString and fans out to
// hooks. At least one non-nil hook is required.
func NewPrinter(indentString string, hooks ...io.Writer) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("ui: no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("ui: nil hook")
		}
	}
	return &Printer{indStr: indentString, hooks: hooks}, nil
}

// Write prints s with every line indented ind levels.
func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(indent(s, strings.Repeat(p.indStr, ind)))
}

// Writeln prints s like Write and terminates it with a newline.
func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(indent(s, strings.Repeat(p.indStr, ind)) + "\n")
}

// Close closes every hook that implements io.Closer and returns the first
// error.
func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, hook := range p.hooks {
		if c, ok := hook.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("ui: close hook: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Printer) write(s string) error {
	for _, hook := range p.hooks {
		if _, err := io.WriteString(hook, s); err != nil {
			return fmt.Errorf("ui: write to hook: %w", err)
		}
	}
	return nil
}

func indent(s, prefix string) string {
	if prefix == "" {
		return s
	}
	var b strings.Builder
	first := true
	for line := range strings.SplitSeq(s, "\n") {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}
