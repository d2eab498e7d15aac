package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// PlainIO implements IO with plain line output. It is used when TUI mode is
// disabled or stdout is not a terminal.
type PlainIO struct {
	scanner *bufio.Scanner
	out     io.Writer
	errOut  io.Writer

	mu     sync.Mutex
	status Status
}

var _ IO = (*PlainIO)(nil)

// NewPlainIO creates a PlainIO on stdin and stdout.
func NewPlainIO() *PlainIO {
	return NewPlainIOWith(os.Stdin, os.Stdout, os.Stderr)
}

// NewPlainIOWith creates a PlainIO on the given streams.
func NewPlainIOWith(in io.Reader, out, errOut io.Writer) *PlainIO {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 1024*1024), 1024*1024)
	return &PlainIO{scanner: s, out: out, errOut: errOut}
}

func (p *PlainIO) ReadInput() (string, error) {
	p.mu.Lock()
	prompt := promptFor(p.status)
	p.mu.Unlock()
	fmt.Fprintf(p.out, "\n%s> ", prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

func (p *PlainIO) UserMessage(_ string) {
	// Plain terminal: the user already sees what they typed.
}

func (p *PlainIO) ThinkingStart() {}

func (p *PlainIO) ThinkingDone() {}

func (p *PlainIO) Markdown(text string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, strings.TrimRight(text, "\n"))
}

func (p *PlainIO) SystemMessage(text string) {
	fmt.Fprintln(p.out, text)
}

func (p *PlainIO) Error(msg string) {
	fmt.Fprintf(p.errOut, "error: %s\n", msg)
}

func (p *PlainIO) SetStatus(st Status) {
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
}

// promptFor renders the active session as a short prompt prefix.
func promptFor(st Status) string {
	if st.Tabs == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d/%d", st.Index, st.Tabs)
	if st.Private {
		sb.WriteString(" private")
	}
	sb.WriteString("] ")
	if st.Title != "" {
		sb.WriteString(truncate(st.Title, 40))
		sb.WriteString(" ")
	}
	return sb.String()
}

// truncate shortens s to maxLen runes, appending "..." if cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
