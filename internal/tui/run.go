package tui

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// RunTUI starts the bubbletea program in alt-screen mode and runs shellFn
// concurrently. It blocks until either the shell finishes or the user quits.
func RunTUI(shellFn func(io IO) error) error {
	inputCh := make(chan inputResult, 1)
	model := NewModel(inputCh)

	// Create TuiIO early so the cancel hook is wired before the model
	// is copied into the tea.Program.
	tuiIO := &TuiIO{
		inputCh: inputCh,
	}
	model.cancelFn = tuiIO.CancelRunning

	p := tea.NewProgram(model, tea.WithAltScreen())
	tuiIO.program = p

	var (
		shellErr error
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		shellErr = shellFn(tuiIO)
		p.Send(shellDoneMsg{err: shellErr})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	// Unblock a ReadInput still waiting after the program exited.
	select {
	case inputCh <- inputResult{err: fmt.Errorf("closed")}:
	default:
	}
	wg.Wait()

	return shellErr
}
