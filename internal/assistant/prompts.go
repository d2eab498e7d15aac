package assistant

import (
	"fmt"
	"strings"
)

// Limits bounds the page text placed in prompts, in characters.
type Limits struct {
	Page     int
	Context  int
	Question int
	History  int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{Page: 15000, Context: 5000, Question: 10000, History: 6}
}

func summarizePrompt(content, language string) string {
	return fmt.Sprintf(`Summarize the following content briefly and clearly in %s.
Focus on the main points and the important ideas.

Content:
%s`, language, content)
}

func explainPrompt(selected, pageContext, language string) string {
	contextInfo := ""
	if pageContext != "" {
		contextInfo = "\n\nPage context (for reference):\n" + pageContext
	}
	return fmt.Sprintf(`Explain the following text simply and clearly in %s.
If it contains technical terms, explain them.

Selected text:
%s
%s`, language, selected, contextInfo)
}

func askPrompt(question, pageContent string, previous []Message) string {
	conversation := ""
	if len(previous) > 0 {
		lines := make([]string, 0, len(previous))
		for _, m := range previous {
			if m.IsUser {
				lines = append(lines, "Question: "+m.Content)
			} else {
				lines = append(lines, "Answer: "+m.Content)
			}
		}
		conversation = "\n\nPrevious conversation:\n" + strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`You are an assistant answering questions about the content of a web page.
Answer only from the given content. If the answer is not in the content, say so.

Page content:
%s
%s

Question: %s`, pageContent, conversation, question)
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// lastMessages returns at most n trailing messages.
func lastMessages(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
