// Package tui defines the IO interface between the browser shell and the
// user interface layer, plus PlainIO (terminal fallback), TuiIO (bubbletea)
// and BufferIO (scripted, for one-shot commands and tests).
package tui

// Status is what the status bar shows about the active session.
type Status struct {
	Tabs     int
	Index    int // 1-based
	Title    string
	URL      string
	Private  bool
	Loading  bool
	Progress int
	Desktop  bool
}

// IO is the contract between the shell and the UI layer.
type IO interface {
	// ReadInput blocks until the user submits a line of input.
	// Returns ("", io.EOF) when the user quits.
	ReadInput() (string, error)

	// UserMessage echoes the submitted line in the output area.
	UserMessage(text string)

	// ThinkingStart signals a slow operation (page load, AI request).
	ThinkingStart()

	// ThinkingDone clears the indicator started by ThinkingStart.
	ThinkingDone()

	// Markdown shows page text or an AI answer. Rich implementations
	// render it with glamour.
	Markdown(text string)

	// SystemMessage displays a notice (command feedback, listings).
	SystemMessage(text string)

	// Error displays an error message with prominent styling.
	Error(msg string)

	// SetStatus updates the status bar.
	SetStatus(st Status)
}
