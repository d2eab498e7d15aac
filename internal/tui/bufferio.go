package tui

import (
	"io"
	"strings"
	"sync"
)

// BufferIO replays scripted input lines and captures everything shown,
// without rendering to any terminal. Used by one-shot commands and tests.
type BufferIO struct {
	mu     sync.Mutex
	input  []string
	buf    strings.Builder
	errs   []string
	status Status
}

var _ IO = (*BufferIO)(nil)

// NewBufferIO creates a BufferIO that returns lines in order, then io.EOF.
func NewBufferIO(lines ...string) *BufferIO {
	return &BufferIO{input: lines}
}

// Output returns all captured text output.
func (b *BufferIO) Output() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Errors returns the captured error messages.
func (b *BufferIO) Errors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.errs...)
}

// Status returns the last status set.
func (b *BufferIO) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *BufferIO) ReadInput() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.input) == 0 {
		return "", io.EOF
	}
	line := b.input[0]
	b.input = b.input[1:]
	return strings.TrimSpace(line), nil
}

func (b *BufferIO) UserMessage(_ string) {}
func (b *BufferIO) ThinkingStart()       {}
func (b *BufferIO) ThinkingDone()        {}

func (b *BufferIO) Markdown(text string) { b.write(text) }

func (b *BufferIO) SystemMessage(text string) { b.write(text) }

func (b *BufferIO) Error(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, msg)
}

func (b *BufferIO) SetStatus(st Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = st
}

func (b *BufferIO) write(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(text)
	b.buf.WriteString("\n")
}
