package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gear-foundation/one-of-us/internal/join"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes command output as text or JSON lines. It is safe for use
// from state-change callbacks.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	json     bool
	colorize bool
}

// NewPrinter creates a Printer. Color is used only for text output to a
// terminal.
func NewPrinter(w io.Writer, format string) *Printer {
	return &Printer{
		w:        w,
		json:     format == "json",
		colorize: format != "json" && isTerminal(w),
	}
}

// JSON reports whether output is JSON.
func (p *Printer) JSON() bool { return p.json }

// Value writes v as one JSON line. In text mode it writes text instead.
func (p *Printer) Value(v any, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		b, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(p.w, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintln(p.w, string(b))
		return
	}
	fmt.Fprintln(p.w, text)
}

// Success prints a success message
func (p *Printer) Success(message string) { p.mark("✓", ColorGreen, message) }

// Error prints an error message
func (p *Printer) Error(message string) { p.mark("✗", ColorRed, message) }

// Warning prints a warning message
func (p *Printer) Warning(message string) { p.mark("⚠", ColorYellow, message) }

// Info prints an info message
func (p *Printer) Info(message string) { p.mark("ℹ", ColorBlue, message) }

func (p *Printer) mark(symbol, color, message string) {
	if p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.colorize {
		fmt.Fprintf(p.w, "%s%s%s %s\n", color, symbol, ColorReset, message)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", symbol, message)
}

// State prints a join state, as JSON or as a status line.
func (p *Printer) State(s join.State) {
	if p.json {
		p.Value(s, "")
		return
	}
	line := describeState(s)
	switch {
	case s.TxStatus == join.StatusError:
		p.Error(line)
	case s.Finalized:
		p.Success(line)
	default:
		p.Info(line)
	}
}

func describeState(s join.State) string {
	var b strings.Builder
	switch {
	case s.TxStatus == join.StatusError:
		b.WriteString(s.Error)
	case s.TxStatus == join.StatusSigning:
		b.WriteString("waiting for signature")
	case s.TxStatus == join.StatusConfirming:
		b.WriteString("joined, waiting for finalization")
	case s.Finalized:
		b.WriteString("you are one of us")
	case s.IsJoined:
		b.WriteString("joined, not yet finalized")
	case s.CheckingMembership:
		b.WriteString("checking membership")
	default:
		b.WriteString("not a member")
	}
	if s.TxHash != "" {
		b.WriteString(" (tx ")
		b.WriteString(s.TxHash)
		b.WriteString(")")
	}
	return b.String()
}

// Spinner shows activity while a command waits.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	done     chan struct{}
	colorize bool
}

// NewSpinner creates a spinner on the printer's writer. It renders nothing
// unless the writer is a terminal.
func (p *Printer) NewSpinner(prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   p.w,
		colorize: p.colorize,
		done:     make(chan struct{}),
	}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.colorize {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				fmt.Fprintf(s.writer, "\r%s%s%s %s", ColorCyan, s.frames[s.current], ColorReset, s.prefix)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", len(s.prefix)+4)+"\r")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
