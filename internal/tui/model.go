package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// ---------- messages sent from the shell goroutine via program.Send() ----------

type readInputMsg struct{}

type inputResult struct {
	text string
	err  error
}

type userMsg struct{ text string }
type thinkingStartMsg struct{}
type thinkingDoneMsg struct{}
type markdownMsg struct{ text string }
type systemMsg struct{ text string }
type errorMsg struct{ text string }
type statusMsg struct{ status Status }
type shellDoneMsg struct{ err error }

// ---------- styles ----------

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	privateBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("54")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // gray spinner
)

// ---------- Model ----------

const statusBarHeight = 1
const inputHeight = 1

// Model is the bubbletea model managing the full-screen shell.
type Model struct {
	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	width     int
	height    int

	content   *strings.Builder // accumulated output, shared across model copies
	inputMode bool             // text input is active (waiting for user)
	thinking  bool

	status Status

	inputCh  chan inputResult // send user input back to ReadInput()
	cancelFn func() bool      // cancels the command in flight

	quitting bool
}

// NewModel creates the initial bubbletea model.
func NewModel(inputCh chan inputResult) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "address, search or /help"
	ti.CharLimit = 4096

	vp := viewport.New(80, 24)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		viewport:  vp,
		textinput: ti,
		spinner:   sp,
		content:   &strings.Builder{},
		inputCh:   inputCh,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - statusBarHeight - inputHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
		m.textinput.Width = m.width - 4 // account for prompt

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.inputMode {
				m.inputCh <- inputResult{err: fmt.Errorf("interrupted")}
				m.inputMode = false
				m.textinput.Blur()
			} else if m.cancelFn != nil {
				m.cancelFn()
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if !m.inputMode && m.cancelFn != nil && m.cancelFn() {
				m.appendLine(systemStyle.Render("  [cancelled]"))
			}
		case "enter":
			if m.inputMode {
				text := strings.TrimSpace(m.textinput.Value())
				m.textinput.SetValue("")
				m.inputCh <- inputResult{text: text}
				m.inputMode = false
				m.textinput.Blur()
			}
			return m, nil
		}

		if m.inputMode {
			var cmd tea.Cmd
			m.textinput, cmd = m.textinput.Update(msg)
			cmds = append(cmds, cmd)
		}

	// ---------- custom messages from the shell goroutine ----------

	case readInputMsg:
		m.inputMode = true
		m.textinput.Focus()
		cmds = append(cmds, textinput.Blink)

	case userMsg:
		m.appendLine(userStyle.Render("> " + msg.text))

	case thinkingStartMsg:
		m.thinking = true

	case thinkingDoneMsg:
		m.thinking = false

	case markdownMsg:
		m.appendLine(m.renderMarkdown(msg.text))

	case systemMsg:
		m.appendLine(systemStyle.Render(msg.text))

	case errorMsg:
		m.appendLine(errorStyle.Render("Error: " + msg.text))

	case statusMsg:
		m.status = msg.status

	case shellDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoBottom()

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	style := statusBarStyle
	if m.status.Private {
		style = privateBarStyle
	}
	bar := style.Width(m.width).Render(statusLine(m.status))

	var input string
	if m.inputMode {
		input = m.textinput.View()
	}
	return m.viewport.View() + "\n" + bar + "\n" + input
}

// statusLine summarizes the active session for the status bar.
func statusLine(st Status) string {
	if st.Tabs == 0 {
		return " no tabs"
	}
	parts := []string{fmt.Sprintf("tab %d/%d", st.Index, st.Tabs)}
	if st.Private {
		parts = append(parts, "private")
	}
	if st.Desktop {
		parts = append(parts, "desktop")
	}
	if st.Loading {
		parts = append(parts, fmt.Sprintf("loading %d%%", st.Progress))
	}
	if st.Title != "" {
		parts = append(parts, truncate(st.Title, 40))
	}
	if st.URL != "" {
		parts = append(parts, truncate(st.URL, 60))
	}
	return " " + strings.Join(parts, " | ")
}

// renderContent returns the viewport content plus the spinner, which is not
// persisted in the content builder.
func (m *Model) renderContent() string {
	base := m.content.String()
	if m.thinking {
		return base + "\n" + m.spinner.View() + " Working..."
	}
	return base
}

// ---------- markdown rendering ----------

// renderMarkdown renders text at the current width.
func (m *Model) renderMarkdown(text string) string {
	return RenderMarkdown(text, m.width)
}

// RenderMarkdown renders text with glamour for a terminal of the given
// width, falling back to the raw text.
func RenderMarkdown(text string, width int) string {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return strings.TrimRight(text, "\n")
	}
	rendered, err := r.Render(text)
	if err != nil {
		return strings.TrimRight(text, "\n")
	}
	return strings.TrimRight(rendered, "\n")
}

// ---------- helpers ----------

func (m *Model) appendLine(text string) {
	m.content.WriteString(text)
	m.content.WriteString("\n")
}
