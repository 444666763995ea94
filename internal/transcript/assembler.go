package transcript

import (
	"strings"
	"time"
)

// Assemble coalesces finalized words into speaker segments.
//
// Consecutive words with the same speaker id form one segment, joined with
// single spaces. A change of id closes the current segment. Untagged words
// stay in the current run; untagged words before any tag form an Unknown run.
// Every segment is stamped with at.
func Assemble(words []Word, at time.Time) []Segment {
	var (
		segments []Segment
		run      []string
		current  *int
		start    float64
		end      float64
	)

	flush := func() {
		if len(run) == 0 {
			return
		}
		speaker := SpeakerUnknown
		if current != nil {
			speaker = SpeakerForID(*current)
		}
		segments = append(segments, Segment{
			Speaker:   speaker,
			Text:      strings.Join(run, " "),
			Timestamp: at,
			Start:     start,
			End:       end,
		})
		run = nil
	}

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}

		if w.Speaker != nil && (current == nil || *current != *w.Speaker) {
			flush()
			id := *w.Speaker
			current = &id
		}

		if len(run) == 0 {
			start = w.Start
		}
		run = append(run, text)
		end = w.End
	}
	flush()

	return segments
}

// Join reproduces the space-joined text of a word list.
func Join(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if text := strings.TrimSpace(w.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// HasSpeakers reports whether any word carries a diarization tag.
func HasSpeakers(words []Word) bool {
	for _, w := range words {
		if w.Speaker != nil {
			return true
		}
	}
	return false
}
