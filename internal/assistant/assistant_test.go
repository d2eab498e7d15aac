package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabd-browser/nabd/internal/provider"
)

// fakeProvider replays a canned reply or error.
type fakeProvider struct {
	reply string
	err   error

	mu   sync.Mutex
	reqs []*provider.ChatRequest
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan provider.Event, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	ch := make(chan provider.Event, 4)
	if f.err != nil {
		ch <- provider.Event{Type: provider.EventError, Error: f.err}
	} else {
		for _, part := range strings.SplitAfter(f.reply, " ") {
			ch <- provider.Event{Type: provider.EventTextDelta, TextDelta: part}
		}
		ch <- provider.Event{Type: provider.EventDone, Usage: &provider.Usage{}}
	}
	close(ch)
	return ch, nil
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestClientRequest(t *testing.T) {
	fp := &fakeProvider{reply: "a short answer"}
	c := NewClient(fp, "m1", 512, nil)

	got, err := c.Request(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "a short answer", got)

	require.Len(t, fp.reqs, 1)
	req := fp.reqs[0]
	assert.Equal(t, "m1", req.Model)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, provider.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "question", req.Messages[0].Text)
}

func TestClientErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		p    provider.Provider
		want string
		is   error
	}{
		{"unauthorized", &fakeProvider{err: statusErr(401)}, "Invalid API key", nil},
		{"forbidden", &fakeProvider{err: statusErr(403)}, "Invalid API key", nil},
		{"rate limited", &fakeProvider{err: statusErr(429)}, "Rate limit exceeded, try again later", nil},
		{"server", &fakeProvider{err: statusErr(502)}, "Server error", nil},
		{"other status", &fakeProvider{err: statusErr(418)}, "Error: 418", nil},
		{"empty reply", &fakeProvider{reply: ""}, "No response received", ErrNoContent},
		{"cancelled", &fakeProvider{err: context.Canceled}, "Request cancelled", context.Canceled},
		{"no provider", nil, "AI assistant is not configured; run nabd init", ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *Client
			if tt.p == nil {
				c = NewClient(nil, "", 0, nil)
			} else {
				c = NewClient(tt.p, "", 0, nil)
			}
			_, err := c.Request(context.Background(), "x")
			require.Error(t, err)

			var ae *Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tt.want, ae.Message)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

// scripted is a Requester recording prompts.
type scripted struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	hook    func()
}

func (s *scripted) Request(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.hook != nil {
		s.hook()
	}
	return s.reply, s.err
}

func (s *scripted) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

func TestPanelVisibility(t *testing.T) {
	p := NewPanel(&scripted{})
	assert.False(t, p.State().Visible)
	assert.True(t, p.Toggle())
	assert.False(t, p.Toggle())
	p.Show()
	assert.True(t, p.State().Visible)
	p.Hide()
	assert.False(t, p.State().Visible)
}

func TestPanelSummarize(t *testing.T) {
	r := &scripted{reply: "the summary"}
	p := NewPanel(r, WithLanguage("English"))

	err := p.Summarize(context.Background())
	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "No content to summarize", p.State().Error)
	assert.Empty(t, r.prompts)

	p.SetPage("s1", "Some page text")
	require.NoError(t, p.Summarize(context.Background()))

	st := p.State()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	require.Len(t, st.Messages, 2)
	assert.True(t, st.Messages[0].IsUser)
	assert.Equal(t, "Summarize this page", st.Messages[0].Content)
	assert.False(t, st.Messages[1].IsUser)
	assert.Equal(t, "the summary", st.Messages[1].Content)
	assert.NotEqual(t, st.Messages[0].ID, st.Messages[1].ID)

	assert.Contains(t, r.last(), "Some page text")
	assert.Contains(t, r.last(), "in English")
}

func TestPanelSummarizeTruncates(t *testing.T) {
	r := &scripted{reply: "ok"}
	p := NewPanel(r, WithLimits(Limits{Page: 10, Context: 4, Question: 6, History: 2}))

	p.SetPage("s1", strings.Repeat("a", 10)+"TAIL")
	require.NoError(t, p.Summarize(context.Background()))
	assert.Contains(t, r.last(), strings.Repeat("a", 10))
	assert.NotContains(t, r.last(), "TAIL")
}

func TestPanelExplain(t *testing.T) {
	r := &scripted{reply: "meaning"}
	p := NewPanel(r, WithLimits(Limits{Page: 100, Context: 4, Question: 100, History: 6}))

	err := p.Explain(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "Select some text first", p.State().Error)

	p.SetPage("s1", "CTX_rest-of-page")
	require.NoError(t, p.Explain(context.Background(), "goroutine"))

	st := p.State()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "Explain: goroutine", st.Messages[0].Content)
	assert.Equal(t, "meaning", st.Messages[1].Content)
	assert.Equal(t, "goroutine", st.SelectedText)

	prompt := r.last()
	assert.Contains(t, prompt, "goroutine")
	assert.Contains(t, prompt, "Page context (for reference):\nCTX_")
	assert.NotContains(t, prompt, "rest-of-page")

	// The stored selection is reused.
	require.NoError(t, p.Explain(context.Background(), ""))
	assert.Contains(t, r.last(), "goroutine")
}

func TestPanelAsk(t *testing.T) {
	r := &scripted{reply: "answer"}
	p := NewPanel(r, WithLimits(Limits{Page: 100, Context: 100, Question: 100, History: 2}))

	require.NoError(t, p.Ask(context.Background(), "   "))
	assert.Empty(t, r.prompts)

	require.Error(t, p.Ask(context.Background(), "what?"))
	assert.Equal(t, "No content to ask about", p.State().Error)

	p.SetPage("s1", "page body")
	require.NoError(t, p.Ask(context.Background(), "first?"))
	first := r.last()
	assert.Contains(t, first, "page body")
	assert.Contains(t, first, "Question: first?")
	assert.NotContains(t, first, "Previous conversation")

	require.NoError(t, p.Ask(context.Background(), "second?"))
	second := r.last()
	assert.Contains(t, second, "Previous conversation:\nQuestion: first?\nAnswer: answer")

	st := p.State()
	require.Len(t, st.Messages, 4)
	assert.Equal(t, "second?", st.Messages[2].Content)
	assert.True(t, st.Messages[2].IsUser)

	// Only the last two messages are carried.
	require.NoError(t, p.Ask(context.Background(), "third?"))
	assert.NotContains(t, r.last(), "Question: first?")
	assert.Contains(t, r.last(), "Question: second?")
}

func TestPanelRequestError(t *testing.T) {
	r := &scripted{err: &Error{Message: "Rate limit exceeded, try again later"}}
	p := NewPanel(r)
	p.SetPage("s1", "content")

	err := p.Summarize(context.Background())
	require.Error(t, err)
	st := p.State()
	assert.False(t, st.Loading)
	assert.Equal(t, "Rate limit exceeded, try again later", st.Error)
	assert.Empty(t, st.Messages)
}

func TestPanelDiscardsAfterSessionClosed(t *testing.T) {
	var mu sync.Mutex
	open := map[string]bool{"s1": true}
	alive := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		return open[id]
	}

	r := &scripted{reply: "late"}
	p := NewPanel(r, WithSessionCheck(alive))
	p.SetPage("s1", "content")

	r.hook = func() {
		mu.Lock()
		open["s1"] = false
		mu.Unlock()
	}
	err := p.Summarize(context.Background())
	assert.ErrorIs(t, err, ErrDiscarded)

	st := p.State()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Messages)
}

func TestPanelLoadingAndListeners(t *testing.T) {
	var p *Panel
	var sawLoading bool
	r := &scripted{reply: "ok"}
	r.hook = func() { sawLoading = p.State().Loading }
	p = NewPanel(r)

	var states []State
	p.OnChange(func(s State) { states = append(states, s) })

	p.SetPage("s1", "content")
	require.NoError(t, p.Summarize(context.Background()))
	assert.True(t, sawLoading)

	require.GreaterOrEqual(t, len(states), 3)
	last := states[len(states)-1]
	assert.False(t, last.Loading)
	assert.Len(t, last.Messages, 2)
}

func TestPanelClearAndDropSession(t *testing.T) {
	p := NewPanel(&scripted{reply: "ok"})
	p.SetPage("s1", "content")
	require.NoError(t, p.Summarize(context.Background()))

	p.Clear()
	assert.Empty(t, p.State().Messages)

	p.DropSession("other")
	assert.Equal(t, "content", p.State().PageContent)
	p.DropSession("s1")
	assert.Empty(t, p.State().PageContent)
	assert.Empty(t, p.State().PageSession)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "مرح", truncate("مرحبا", 3))
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abc", truncate("abc", 0))
}
