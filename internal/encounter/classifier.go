package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Verdict is the fixed vocabulary a classifier answers with
type Verdict string

const (
	VerdictStart    Verdict = "START"
	VerdictEnd      Verdict = "END"
	VerdictContinue Verdict = "CONTINUE"
	VerdictWait     Verdict = "WAIT"
)

// Classifier is a single-shot text classifier consulted for start/end decisions.
// Implementations must honor ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Verdict, error)
}

// ParseVerdict returns the first vocabulary word found in text.
func ParseVerdict(text string) (Verdict, bool) {
	tokens := strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, token := range tokens {
		switch v := Verdict(token); v {
		case VerdictStart, VerdictEnd, VerdictContinue, VerdictWait:
			return v, true
		}
	}
	return "", false
}

// BuildPrompt renders the classifier prompt for the latest transcript line.
func BuildPrompt(state State, text string, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("You are monitoring audio from a clinical exam room.\n")
	fmt.Fprintf(&b, "Current state: %s. Encounter elapsed: %d seconds.\n", state, int(elapsed.Seconds()))
	fmt.Fprintf(&b, "Latest transcript: %q\n", text)
	b.WriteString("Answer with exactly one word: START if a patient encounter is beginning, ")
	b.WriteString("END if the encounter is concluding, CONTINUE if it is ongoing, WAIT if it is unclear.")
	return b.String()
}
