package events

import (
	"time"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

// Event types carried in the eventType field and header
const (
	TypeTranscriptPartial = "encounter.transcript.partial"
	TypeTranscriptFinal   = "encounter.transcript.final"
	TypeEncounterState    = "encounter.state.changed"
	TypeEncounterSilence  = "encounter.silence.prolonged"
)

// TranscriptPartial is an interim transcript update
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// TranscriptFinal is one finalized speaker segment
type TranscriptFinal struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId"`
	SegmentID string  `json:"segmentId"`
	Timestamp int64   `json:"timestamp"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartSec  float64 `json:"startSec"`
	EndSec    float64 `json:"endSec"`
}

// EncounterState reports a detector notification
type EncounterState struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	Timestamp  int64   `json:"timestamp"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Trigger    string  `json:"trigger"`
	Pattern    string  `json:"pattern,omitempty"`
	SilenceSec float64 `json:"silenceSec,omitempty"`
}

// NewTranscriptPartial builds the partial event for an interim update
func NewTranscriptPartial(sessionID string, u transcript.InterimUpdate, at time.Time) TranscriptPartial {
	return TranscriptPartial{
		EventType: TypeTranscriptPartial,
		SessionID: sessionID,
		Timestamp: at.UnixMilli(),
		Speaker:   string(u.Speaker),
		Text:      u.Text,
	}
}

// NewTranscriptFinal builds the final event for a segment
func NewTranscriptFinal(sessionID, segmentID string, s transcript.Segment) TranscriptFinal {
	return TranscriptFinal{
		EventType: TypeTranscriptFinal,
		SessionID: sessionID,
		SegmentID: segmentID,
		Timestamp: s.Timestamp.UnixMilli(),
		Speaker:   string(s.Speaker),
		Text:      s.Text,
		StartSec:  s.Start,
		EndSec:    s.End,
	}
}

// NewEncounterState builds the encounter event for a detector notification
func NewEncounterState(sessionID string, ev encounter.Event) EncounterState {
	eventType := TypeEncounterState
	if ev.Kind == encounter.EventProlongedSilence {
		eventType = TypeEncounterSilence
	}
	return EncounterState{
		EventType:  eventType,
		SessionID:  sessionID,
		Timestamp:  ev.At.UnixMilli(),
		From:       ev.From.String(),
		To:         ev.To.String(),
		Trigger:    ev.Trigger,
		Pattern:    ev.Pattern,
		SilenceSec: ev.Silence.Seconds(),
	}
}
