// Package assistant is the AI text capability and the AI panel that uses it
// to summarize, explain and answer questions about the current page.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nabd-browser/nabd/internal/provider"
)

var (
	// ErrNoContent means the provider answered without any text.
	ErrNoContent = errors.New("assistant: no content in reply")
	// ErrNotConfigured means no provider is available.
	ErrNotConfigured = errors.New("assistant: no provider configured")
)

// Error carries a message fit for the user next to the underlying cause.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Client sends single-turn prompts to a Provider.
type Client struct {
	p         provider.Provider
	model     string
	maxTokens int
	log       *zap.Logger
}

// NewClient wraps p. p may be nil, in which case every request fails with
// ErrNotConfigured.
func NewClient(p provider.Provider, model string, maxTokens int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{p: p, model: model, maxTokens: maxTokens, log: logger}
}

// Configured reports whether a provider is attached.
func (c *Client) Configured() bool { return c.p != nil }

// Request sends prompt as one user message and returns the reply text.
// Errors are *Error values whose Message is shown to the user.
func (c *Client) Request(ctx context.Context, prompt string) (string, error) {
	if c.p == nil {
		return "", &Error{Message: userMessage(ErrNotConfigured), Err: ErrNotConfigured}
	}
	log := c.log.With(zap.String("provider", c.p.Name()))

	ch, err := c.p.Chat(ctx, &provider.ChatRequest{
		Model:     c.model,
		Messages:  []provider.Message{{Role: provider.RoleUser, Text: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		log.Warn("assistant request", zap.Error(err))
		return "", &Error{Message: userMessage(err), Err: err}
	}

	text, usage, err := provider.Collect(ch)
	if err != nil {
		log.Warn("assistant request", zap.Error(err))
		return "", &Error{Message: userMessage(err), Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Message: userMessage(ErrNoContent), Err: ErrNoContent}
	}
	if usage != nil {
		log.Debug("assistant reply",
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens))
	}
	return text, nil
}

// userMessage maps a request failure to what the panel shows.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "AI assistant is not configured; run nabd init"
	case errors.Is(err, ErrNoContent):
		return "No response received"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	}
	switch code := provider.StatusCode(err); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "Invalid API key"
	case code == http.StatusTooManyRequests:
		return "Rate limit exceeded, try again later"
	case code >= 500:
		return "Server error"
	case code != 0:
		return fmt.Sprintf("Error: %d", code)
	}
	return "Something went wrong"
}
