package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDiscarded is returned when a reply arrives after the session its page
// content came from was closed.
var ErrDiscarded = errors.New("assistant: session closed before reply")

// Requester is the AI text capability used by the panel.
type Requester interface {
	Request(ctx context.Context, prompt string) (string, error)
}

// Message is one entry of the panel conversation.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a snapshot of the panel.
type State struct {
	Visible      bool
	Loading      bool
	Messages     []Message
	PageContent  string
	PageSession  string
	SelectedText string
	Error        string
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithLimits sets the prompt size limits.
func WithLimits(l Limits) PanelOption { return func(p *Panel) { p.limits = l } }

// WithLanguage sets the language replies are requested in.
func WithLanguage(lang string) PanelOption { return func(p *Panel) { p.language = lang } }

// WithSessionCheck reports whether a session is still open. Replies for
// page content of a closed session are dropped.
func WithSessionCheck(alive func(sessionID string) bool) PanelOption {
	return func(p *Panel) { p.alive = alive }
}

// WithPanelLogger sets the logger.
func WithPanelLogger(l *zap.Logger) PanelOption {
	return func(p *Panel) {
		if l != nil {
			p.log = l
		}
	}
}

// Panel holds the AI conversation about the current page.
type Panel struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     State
	listeners []func(State)

	client   Requester
	limits   Limits
	language string
	alive    func(string) bool
	now      func() time.Time
	log      *zap.Logger
}

// NewPanel creates a hidden, empty panel.
func NewPanel(client Requester, opts ...PanelOption) *Panel {
	p := &Panel{
		client:   client,
		limits:   DefaultLimits(),
		language: "Arabic",
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnChange registers fn to receive every new panel state.
func (p *Panel) OnChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// State returns a snapshot.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() State {
	s := p.state
	s.Messages = append([]Message(nil), p.state.Messages...)
	return s
}

// publishLocked releases p.mu and delivers the new state in order.
func (p *Panel) publishLocked() {
	s := p.snapshotLocked()
	listeners := append([]func(State){}, p.listeners...)
	p.notifyMu.Lock()
	p.mu.Unlock()
	defer p.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (p *Panel) Show() {
	p.mu.Lock()
	p.state.Visible = true
	p.publishLocked()
}

func (p *Panel) Hide() {
	p.mu.Lock()
	p.state.Visible = false
	p.publishLocked()
}

// Toggle flips visibility and returns the new value.
func (p *Panel) Toggle() bool {
	p.mu.Lock()
	p.state.Visible = !p.state.Visible
	v := p.state.Visible
	p.publishLocked()
	return v
}

// SetPage stores the text of the page shown in sessionID.
func (p *Panel) SetPage(sessionID, content string) {
	p.mu.Lock()
	p.state.PageSession = sessionID
	p.state.PageContent = content
	p.publishLocked()
}

// SetSelection stores the text to explain.
func (p *Panel) SetSelection(text string) {
	p.mu.Lock()
	p.state.SelectedText = text
	p.publishLocked()
}

// DropSession forgets page content read from a closed session.
func (p *Panel) DropSession(sessionID string) {
	p.mu.Lock()
	if p.state.PageSession != sessionID {
		p.mu.Unlock()
		return
	}
	p.state.PageSession = ""
	p.state.PageContent = ""
	p.state.SelectedText = ""
	p.publishLocked()
}

// Clear removes the conversation and any error.
func (p *Panel) Clear() {
	p.mu.Lock()
	p.state.Messages = nil
	p.state.Error = ""
	p.publishLocked()
}

// Summarize asks for a summary of the current page.
func (p *Panel) Summarize(ctx context.Context) error {
	p.mu.Lock()
	content := p.state.PageContent
	if strings.TrimSpace(content) == "" {
		return p.failLocked("No content to summarize")
	}
	prompt := summarizePrompt(truncate(content, p.limits.Page), p.language)
	return p.run(ctx, prompt, "Summarize this page")
}

// Explain asks for an explanation of text, or of the stored selection when
// text is empty.
func (p *Panel) Explain(ctx context.Context, text string) error {
	p.mu.Lock()
	if strings.TrimSpace(text) != "" {
		p.state.SelectedText = text
	}
	selected := p.state.SelectedText
	if strings.TrimSpace(selected) == "" {
		return p.failLocked("Select some text first")
	}
	prompt := explainPrompt(selected, truncate(p.state.PageContent, p.limits.Context), p.language)
	return p.run(ctx, prompt, "Explain: "+selected)
}

// Ask asks question about the current page. Blank questions are ignored.
func (p *Panel) Ask(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}
	p.mu.Lock()
	content := p.state.PageContent
	if strings.TrimSpace(content) == "" {
		return p.failLocked("No content to ask about")
	}
	previous := lastMessages(p.state.Messages, p.limits.History)
	prompt := askPrompt(question, truncate(content, p.limits.Question), previous)
	p.appendLocked(question, true)
	return p.run(ctx, prompt, "")
}

// failLocked records a validation error and releases p.mu.
func (p *Panel) failLocked(msg string) error {
	p.state.Error = msg
	p.publishLocked()
	return &Error{Message: msg}
}

// run is entered with p.mu held. It sends prompt and, on success, appends
// userLine (if any) and the reply.
func (p *Panel) run(ctx context.Context, prompt, userLine string) error {
	sessionID := p.state.PageSession
	p.state.Loading = true
	p.state.Error = ""
	p.publishLocked()

	reply, err := p.client.Request(ctx, prompt)
	closed := sessionID != "" && p.alive != nil && !p.alive(sessionID)

	p.mu.Lock()
	p.state.Loading = false
	if closed {
		p.log.Debug("dropping assistant reply", zap.String("session_id", sessionID))
		p.publishLocked()
		return ErrDiscarded
	}
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			p.state.Error = ae.Message
		} else {
			p.state.Error = "Something went wrong"
		}
		p.publishLocked()
		return err
	}
	if userLine != "" {
		p.appendLocked(userLine, true)
	}
	p.appendLocked(reply, false)
	p.publishLocked()
	return nil
}

func (p *Panel) appendLocked(content string, isUser bool) {
	p.state.Messages = append(p.state.Messages, Message{
		ID:        uuid.NewString(),
		Content:   content,
		IsUser:    isUser,
		Timestamp: p.now(),
	})
}
