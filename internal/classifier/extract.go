package classifier

import (
	"strings"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
)

// chatResponse covers the chat-completions shape, including the reasoning
// fields some providers fill instead of content, and the bare generate shape.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"message"`
	} `json:"choices"`
	Response string `json:"response"`
}

func (r *chatResponse) message(field func(content, reasoningContent, reasoning string) string) string {
	if len(r.Choices) == 0 {
		return ""
	}
	m := r.Choices[0].Message
	return field(m.Content, m.ReasoningContent, m.Reasoning)
}

// extractionStrategy pulls a candidate answer out of a response.
// Reasoning text states its conclusion last, so those strategies scan from the end.
type extractionStrategy struct {
	name     string
	text     func(*chatResponse) string
	fromLast bool
}

var extractionStrategies = []extractionStrategy{
	{
		name: "content",
		text: func(r *chatResponse) string {
			return r.message(func(content, _, _ string) string { return content })
		},
	},
	{
		name: "reasoning_content",
		text: func(r *chatResponse) string {
			return r.message(func(_, reasoningContent, _ string) string { return reasoningContent })
		},
		fromLast: true,
	},
	{
		name: "reasoning",
		text: func(r *chatResponse) string {
			return r.message(func(_, _, reasoning string) string { return reasoning })
		},
		fromLast: true,
	},
	{
		name: "response",
		text: func(r *chatResponse) string { return r.Response },
	},
}

// extractVerdict tries each strategy in order and returns the first verdict
// found with the name of the strategy that produced it.
func extractVerdict(resp *chatResponse) (encounter.Verdict, string, bool) {
	for _, s := range extractionStrategies {
		text := strings.TrimSpace(s.text(resp))
		if text == "" {
			continue
		}
		var (
			v  encounter.Verdict
			ok bool
		)
		if s.fromLast {
			v, ok = lastVerdict(text)
		} else {
			v, ok = encounter.ParseVerdict(text)
		}
		if ok {
			return v, s.name, true
		}
	}
	return "", "", false
}

func lastVerdict(text string) (encounter.Verdict, bool) {
	fields := strings.Fields(text)
	for i := len(fields) - 1; i >= 0; i-- {
		if v, ok := encounter.ParseVerdict(fields[i]); ok {
			return v, true
		}
	}
	return "", false
}
