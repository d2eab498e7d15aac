package tui

import (
	"context"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// TuiIO implements the IO interface by sending messages to a bubbletea Program.
// All methods are safe to call from any goroutine.
type TuiIO struct {
	program *tea.Program
	inputCh chan inputResult

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ IO = (*TuiIO)(nil)

func (t *TuiIO) ReadInput() (string, error) {
	t.program.Send(readInputMsg{})

	// Block until the user submits or the TUI exits
	res := <-t.inputCh
	if res.err != nil {
		return "", io.EOF
	}
	return res.text, nil
}

func (t *TuiIO) UserMessage(text string) {
	t.program.Send(userMsg{text: text})
}

func (t *TuiIO) ThinkingStart() {
	t.program.Send(thinkingStartMsg{})
}

func (t *TuiIO) ThinkingDone() {
	t.program.Send(thinkingDoneMsg{})
}

func (t *TuiIO) Markdown(text string) {
	t.program.Send(markdownMsg{text: text})
}

func (t *TuiIO) SystemMessage(text string) {
	t.program.Send(systemMsg{text: text})
}

func (t *TuiIO) Error(msg string) {
	t.program.Send(errorMsg{text: msg})
}

func (t *TuiIO) SetStatus(st Status) {
	t.program.Send(statusMsg{status: st})
}

// SetCancel registers the cancel function of the command in flight.
func (t *TuiIO) SetCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// ClearCancel forgets the cancel function once the command returns.
func (t *TuiIO) ClearCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = nil
}

// CancelRunning cancels the command in flight. Returns true if one was
// actually cancelled.
func (t *TuiIO) CancelRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
		return true
	}
	return false
}
