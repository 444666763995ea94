package transcript

import (
	"time"
)

// Speaker is the label attached to a run of diarized words
type Speaker string

const (
	SpeakerPhysician Speaker = "Physician"
	SpeakerPatient   Speaker = "Patient"
	SpeakerOther     Speaker = "Other"
	SpeakerUnknown   Speaker = "Unknown"
)

// SpeakerForID maps a provider speaker id to a label.
//
// The mapping assumes a two-party clinical encounter where the first voice
// the provider hears is the physician: 0 is the physician, 1 the patient and
// every other id is Other. It is deliberately not generalized to more parties.
func SpeakerForID(id int) Speaker {
	switch id {
	case 0:
		return SpeakerPhysician
	case 1:
		return SpeakerPatient
	default:
		return SpeakerOther
	}
}

// Segment is a contiguous run of finalized words from one speaker.
// Segments are immutable once produced.
type Segment struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Start and End are audio offsets in seconds, zero when the provider sent no word timings
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// InterimUpdate is a provisional transcription superseded by the next
// interim or final for the same utterance.
type InterimUpdate struct {
	Text    string  `json:"text"`
	Speaker Speaker `json:"speaker"`
}

// Word is one finalized word with an optional diarization tag.
type Word struct {
	Text    string
	Speaker *int // nil when the provider sent no speaker tag
	Start   float64
	End     float64
}

// SpeakerID returns a pointer to id, for building tagged words.
func SpeakerID(id int) *int {
	return &id
}
