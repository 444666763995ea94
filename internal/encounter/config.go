package encounter

import (
	"time"
)

// Config controls encounter detection
type Config struct {
	Enabled bool

	// SpeechActivityThreshold is the normalized energy level (0..1) that counts as speech
	SpeechActivityThreshold float64

	// SilenceThreshold is how long energy must stay below the threshold to count as prolonged silence
	SilenceThreshold time.Duration

	// MinEncounterDuration gates end detection so short utterances cannot end an encounter
	MinEncounterDuration time.Duration

	// BufferDuration is the pre-commit window spent in Buffering before an
	// encounter starts. Zero skips Buffering.
	BufferDuration time.Duration

	UseLLMForDetection bool
	ClassifierTimeout  time.Duration
	EndKeywords        []string
}

// DefaultEndKeywords are farewell phrases that usually close a visit
var DefaultEndKeywords = []string{
	"goodbye",
	"bye bye",
	"take care",
	"see you next time",
	"have a good day",
	"we're all done",
	"that's all for today",
}

// DefaultConfig returns the detection defaults
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		SpeechActivityThreshold: 0.02,
		SilenceThreshold:        30 * time.Second,
		MinEncounterDuration:    60 * time.Second,
		ClassifierTimeout:       10 * time.Second,
		EndKeywords:             append([]string(nil), DefaultEndKeywords...),
	}
}
