package encounter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/observability"
)

// EventKind identifies a detector notification
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventProlongedSilence
)

// Event is emitted on every state change and when silence first crosses the
// threshold during an encounter.
type Event struct {
	Kind    EventKind
	From    State
	To      State
	Trigger string
	Pattern string        // end pattern that caused the change, if any
	Silence time.Duration // set for EventProlongedSilence
	At      time.Time
}

// Option configures a Detector
type Option func(*Detector)

// WithClassifier enables the classifier path when Config.UseLLMForDetection is set
func WithClassifier(c Classifier) Option {
	return func(d *Detector) {
		d.classifier = c
	}
}

// WithLogger sets the detector logger
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// WithEventBuffer sets the capacity of the event channel
func WithEventBuffer(size int) Option {
	return func(d *Detector) {
		d.events = make(chan Event, size)
	}
}

// Detector decides when a clinical encounter starts and ends from audio
// energy and finalized transcript text.
//
// Inputs are processed synchronously under a mutex. The classifier call is
// the only blocking step and runs without the lock; every transition bumps
// an epoch and a verdict computed under an older epoch is discarded.
type Detector struct {
	cfg        Config
	classifier Classifier
	logger     zerolog.Logger
	now        func() time.Time
	events     chan Event

	mu                  sync.Mutex
	state               State
	epoch               uint64
	monitoring          bool
	encounterStart      time.Time
	bufferStart         time.Time
	lastSpeech          time.Time
	lastDetectedPattern string
	silenceNotified     bool
}

// NewDetector creates a detector in Idle
func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:    cfg,
		logger: observability.WithComponent("encounter"),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.events == nil {
		d.events = make(chan Event, 64)
	}
	return d
}

// Events returns detector notifications. Emission never blocks; events are
// dropped when the consumer falls behind.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// StartMonitoring moves Idle to Monitoring. It is a no-op when detection is disabled.
func (d *Detector) StartMonitoring() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.Enabled {
		return
	}
	d.monitoring = true
	if d.state == StateIdle {
		d.transitionLocked(StateMonitoring, "start_monitoring")
	}
}

// Stop returns to Idle from any state
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.monitoring = false
	d.clearEncounterLocked()
	d.transitionLocked(StateIdle, "stop")
}

// ProcessSpeechActivity feeds one energy sample
func (d *Detector) ProcessSpeechActivity(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	speaking := level >= d.cfg.SpeechActivityThreshold

	switch d.state {
	case StateMonitoring:
		if !speaking {
			return
		}
		if d.cfg.BufferDuration <= 0 {
			d.startEncounterLocked(now, now, "speech_activity")
			return
		}
		d.bufferStart = now
		d.lastSpeech = now
		d.transitionLocked(StateBuffering, "speech_activity")

	case StateBuffering:
		if speaking {
			d.lastSpeech = now
			if now.Sub(d.bufferStart) >= d.cfg.BufferDuration {
				d.startEncounterLocked(d.bufferStart, now, "sustained_speech")
			}
			return
		}
		if now.Sub(d.lastSpeech) >= d.cfg.SilenceThreshold {
			d.bufferStart = time.Time{}
			d.transitionLocked(StateMonitoring, "buffer_silence")
		}

	case StateEncounterActive, StatePotentialEnd:
		if speaking {
			d.lastSpeech = now
			d.silenceNotified = false
			return
		}
		silence := now.Sub(d.lastSpeech)
		if d.state == StateEncounterActive && !d.silenceNotified &&
			d.cfg.SilenceThreshold > 0 && silence >= d.cfg.SilenceThreshold {
			d.silenceNotified = true
			d.logger.Info().Dur("silence", silence).Msg("Prolonged silence during encounter")
			d.emitLocked(Event{
				Kind:    EventProlongedSilence,
				From:    d.state,
				To:      d.state,
				Trigger: "silence",
				Silence: silence,
				At:      now,
			})
		}
	}
}

// ProcessTranscript checks a finalized transcript line for start and end signals.
// With the classifier enabled the call blocks for at most ClassifierTimeout;
// classifier failures fall back to keyword matching.
func (d *Detector) ProcessTranscript(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	d.mu.Lock()
	state := d.state
	if state == StateIdle || state == StatePotentialEnd {
		d.mu.Unlock()
		return
	}
	if !d.cfg.UseLLMForDetection || d.classifier == nil {
		d.checkKeywordsLocked(text)
		d.mu.Unlock()
		return
	}
	epoch := d.epoch
	prompt := BuildPrompt(state, text, d.encounterDurationLocked(d.now()))
	d.mu.Unlock()

	verdict, err := d.classify(ctx, prompt)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.epoch != epoch {
		observability.RecordClassifierCall("stale", 0)
		d.logger.Debug().Str("verdict", string(verdict)).Msg("Discarding stale classifier verdict")
		return
	}
	if err != nil {
		d.logger.Warn().Err(err).Msg("Classifier unavailable, using keyword detection")
		d.checkKeywordsLocked(text)
		return
	}
	d.applyVerdictLocked(verdict)
}

func (d *Detector) classify(ctx context.Context, prompt string) (Verdict, error) {
	timeout := d.cfg.ClassifierTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	verdict, err := d.classifier.Classify(callCtx, prompt)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.RecordClassifierCall("error", elapsed)
		return "", err
	}
	observability.RecordClassifierCall(string(verdict), elapsed)
	return verdict, nil
}

func (d *Detector) applyVerdictLocked(verdict Verdict) {
	now := d.now()

	switch verdict {
	case VerdictStart:
		if d.state == StateMonitoring || d.state == StateBuffering {
			d.startEncounterLocked(now, now, "classifier_start")
		}
	case VerdictEnd:
		if d.state != StateEncounterActive {
			return
		}
		if d.encounterDurationLocked(now) < d.cfg.MinEncounterDuration {
			d.logger.Debug().Msg("Ignoring classifier end before minimum encounter duration")
			return
		}
		d.lastDetectedPattern = string(VerdictEnd)
		d.transitionLocked(StatePotentialEnd, "classifier_end")
	}
}

func (d *Detector) checkKeywordsLocked(text string) {
	if d.state != StateEncounterActive {
		return
	}
	keyword, ok := matchKeyword(text, d.cfg.EndKeywords)
	if !ok {
		return
	}
	if d.encounterDurationLocked(d.now()) < d.cfg.MinEncounterDuration {
		d.logger.Debug().Str("keyword", keyword).Msg("Ignoring end keyword before minimum encounter duration")
		return
	}
	d.lastDetectedPattern = keyword
	d.transitionLocked(StatePotentialEnd, "keyword")
}

// ResetEndDetection overrides a false end: PotentialEnd returns to EncounterActive.
func (d *Detector) ResetEndDetection() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StatePotentialEnd {
		return
	}
	d.lastDetectedPattern = ""
	d.lastSpeech = d.now()
	d.silenceNotified = false
	d.transitionLocked(StateEncounterActive, "reset_end_detection")
}

// ConfirmEncounterEnd accepts a detected end: PotentialEnd moves to Idle.
func (d *Detector) ConfirmEncounterEnd() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StatePotentialEnd {
		return
	}
	d.monitoring = false
	d.clearEncounterLocked()
	d.transitionLocked(StateIdle, "confirmed_end")
}

// EncounterStartedManually forces EncounterActive from any state.
func (d *Detector) EncounterStartedManually() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.startEncounterLocked(now, now, "manual_start")
}

// EncounterEndedManually returns to Monitoring when monitoring was active, else Idle.
func (d *Detector) EncounterEndedManually() {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := StateIdle
	if d.monitoring {
		target = StateMonitoring
	}
	d.clearEncounterLocked()
	d.transitionLocked(target, "manual_end")
}

// State returns the current detection state
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SilenceDuration returns the time since the last qualifying energy sample,
// or zero outside an encounter.
func (d *Detector) SilenceDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.inEncounter() && d.state != StateBuffering {
		return 0
	}
	return d.now().Sub(d.lastSpeech)
}

// EncounterDuration returns the elapsed time of the current encounter
func (d *Detector) EncounterDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encounterDurationLocked(d.now())
}

// LastDetectedPattern returns the end pattern that caused PotentialEnd, or "" when none.
func (d *Detector) LastDetectedPattern() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDetectedPattern
}

func (d *Detector) encounterDurationLocked(now time.Time) time.Duration {
	if !d.state.inEncounter() || d.encounterStart.IsZero() {
		return 0
	}
	return now.Sub(d.encounterStart)
}

// startEncounterLocked enters EncounterActive with a fresh silence clock.
func (d *Detector) startEncounterLocked(start, now time.Time, trigger string) {
	d.encounterStart = start
	d.bufferStart = time.Time{}
	d.lastSpeech = now
	d.lastDetectedPattern = ""
	d.silenceNotified = false
	d.transitionLocked(StateEncounterActive, trigger)
}

func (d *Detector) clearEncounterLocked() {
	d.encounterStart = time.Time{}
	d.bufferStart = time.Time{}
	d.lastSpeech = time.Time{}
	d.lastDetectedPattern = ""
	d.silenceNotified = false
}

// transitionLocked bumps the epoch and moves to the new state.
func (d *Detector) transitionLocked(to State, trigger string) {
	d.epoch++
	from := d.state
	if from == to {
		return
	}
	d.state = to

	observability.RecordDetectorTransition(from.String(), to.String(), trigger)
	d.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("trigger", trigger).
		Str("pattern", d.lastDetectedPattern).
		Msg("Encounter state changed")

	d.emitLocked(Event{
		Kind:    EventStateChanged,
		From:    from,
		To:      to,
		Trigger: trigger,
		Pattern: d.lastDetectedPattern,
		At:      d.now(),
	})
}

func (d *Detector) emitLocked(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Str("to", ev.To.String()).Msg("Detector event channel full, dropping event")
	}
}
