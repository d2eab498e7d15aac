// Package provider defines the streaming chat interface shared by all LLM
// backends. Each adapter (anthropic.go, openai.go) normalizes its API's
// stream into the same Event sequence.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is the provider-neutral request.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
}

type EventType int

const (
	// EventTextDelta carries a piece of the reply.
	EventTextDelta EventType = iota

	// EventDone ends the reply and carries token usage.
	EventDone

	// EventError ends the stream with an error.
	EventError
)

// Event is one item of a streamed reply.
type Event struct {
	Type      EventType
	TextDelta string
	Usage     *Usage
	Error     error
}

// Usage is the token cost of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by every LLM backend.
type Provider interface {
	// Chat starts a streamed reply. The channel is closed after EventDone or
	// EventError; callers must drain it.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name returns the provider identifier, e.g. "anthropic" or "deepseek".
	Name() string

	DefaultModel() string
}

// KnownBaseURLs maps OpenAI-compatible provider names to their endpoints.
var KnownBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"minimax":  "https://api.minimax.chat/v1",
	"kimi":     "https://api.moonshot.cn/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"gemini":   "https://generativelanguage.googleapis.com/v1beta/openai/",
}

// KnownModels holds the default model per provider.
var KnownModels = map[string]string{
	"anthropic": "claude-sonnet-4-20250514",
	"openai":    "gpt-4o-mini",
	"deepseek":  "deepseek-chat",
	"minimax":   "MiniMax-Text-01",
	"kimi":      "moonshot-v1-8k",
	"qwen":      "qwen-plus",
	"gemini":    "gemini-2.0-flash",
}

// New builds the provider called name. baseURL and model may be empty.
func New(name, apiKey, baseURL, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY\n"+
				"  - run: nabd init",
			name, name,
		)
	}
	if model == "" {
		model = KnownModels[name]
	}

	if name == "anthropic" {
		return NewAnthropicProvider(apiKey, baseURL, model), nil
	}
	if baseURL == "" {
		u, ok := KnownBaseURLs[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
		}
		baseURL = u
	}
	return NewOpenAIProvider(apiKey, baseURL, model), nil
}

// Collect drains a reply stream and returns the concatenated text.
func Collect(ch <-chan Event) (string, *Usage, error) {
	var sb strings.Builder
	var usage *Usage
	var err error
	for ev := range ch {
		switch ev.Type {
		case EventTextDelta:
			sb.WriteString(ev.TextDelta)
		case EventDone:
			usage = ev.Usage
		case EventError:
			err = ev.Error
		}
	}
	return sb.String(), usage, err
}

// StatusCode extracts the HTTP status of an API error, or 0 if err did not
// come from an API response.
func StatusCode(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}
