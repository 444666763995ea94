package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/audio"
	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/events"
	"github.com/lexiqai/encounter-scribe/internal/stt"
	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

type fakeTranscriber struct {
	mu         sync.Mutex
	connectErr error
	chunks     [][]int16
	attempt    int
	queued     []stt.Event
	events     chan stt.Event
	closeOnce  sync.Once
	finishErr  error
	lifecycle  []string
}

// newFakeTranscriber delivers queued events when the session closes it,
// after all audio has been sent.
func newFakeTranscriber(queued ...stt.Event) *fakeTranscriber {
	return &fakeTranscriber{
		queued: queued,
		events: make(chan stt.Event, len(queued)),
	}
}

func (f *fakeTranscriber) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeTranscriber) SendAudio(samples []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, samples)
}

func (f *fakeTranscriber) Finish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = append(f.lifecycle, "finish")
	return f.finishErr
}

func (f *fakeTranscriber) Events() <-chan stt.Event {
	return f.events
}

func (f *fakeTranscriber) ReconnectAttempt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempt
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	f.lifecycle = append(f.lifecycle, "close")
	f.mu.Unlock()

	f.closeOnce.Do(func() {
		for _, ev := range f.queued {
			f.events <- ev
		}
		close(f.events)
	})
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	partials  []events.TranscriptPartial
	finals    []events.TranscriptFinal
	encounter []events.EncounterState
}

func (p *fakePublisher) PublishPartial(ctx context.Context, event events.TranscriptPartial) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partials = append(p.partials, event)
	return nil
}

func (p *fakePublisher) PublishFinal(ctx context.Context, event events.TranscriptFinal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finals = append(p.finals, event)
	return nil
}

func (p *fakePublisher) PublishEncounter(ctx context.Context, event events.EncounterState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encounter = append(p.encounter, event)
	return nil
}

func newTestDetector() *encounter.Detector {
	return encounter.NewDetector(encounter.Config{
		Enabled:                 true,
		SpeechActivityThreshold: 0.02,
		SilenceThreshold:        time.Hour,
		EndKeywords:             encounter.DefaultEndKeywords,
	}, encounter.WithLogger(zerolog.Nop()))
}

func loudAudio(chunks, samplesPerChunk int) []byte {
	samples := make([]int16, chunks*samplesPerChunk)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return audio.EncodePCM16(samples)
}

func finalEvent(speaker transcript.Speaker, text string) stt.Event {
	return stt.Event{
		Kind:    stt.EventFinal,
		Segment: transcript.Segment{Speaker: speaker, Text: text, Timestamp: time.Now()},
	}
}

func TestSession_Run(t *testing.T) {
	client := newFakeTranscriber(
		stt.Event{Kind: stt.EventConnectionChanged, Connected: true},
		stt.Event{Kind: stt.EventInterim, Interim: transcript.InterimUpdate{Text: "Good", Speaker: transcript.SpeakerPhysician}},
		finalEvent(transcript.SpeakerPhysician, "Good morning"),
		finalEvent(transcript.SpeakerPatient, "Okay, goodbye"),
	)
	detector := newTestDetector()
	publisher := &fakePublisher{}

	session := NewSession(Config{SamplesPerChunk: 160, AutoConfirmEnd: true}, client, detector, publisher)

	if err := session.Run(context.Background(), bytes.NewReader(loudAudio(5, 160))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(client.chunks) != 5 {
		t.Errorf("Expected 5 audio chunks sent, got %d", len(client.chunks))
	}
	if strings.Join(client.lifecycle, ",") != "finish,close" {
		t.Errorf("Expected finish before close, got %v", client.lifecycle)
	}

	segments := session.Transcript()
	if len(segments) != 2 || segments[1].Text != "Okay, goodbye" {
		t.Errorf("Unexpected transcript %+v", segments)
	}

	if len(publisher.partials) != 1 {
		t.Errorf("Expected 1 partial event, got %d", len(publisher.partials))
	}
	if len(publisher.finals) != 2 {
		t.Fatalf("Expected 2 final events, got %d", len(publisher.finals))
	}
	for _, f := range publisher.finals {
		if f.SessionID != session.ID() {
			t.Errorf("Expected session id %s, got %s", session.ID(), f.SessionID)
		}
	}

	var transitions []string
	for _, ev := range publisher.encounter {
		transitions = append(transitions, ev.To)
	}
	want := []string{"monitoring", "encounter_active", "potential_end", "idle", "monitoring", "idle"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("Expected transitions %v, got %v", want, transitions)
	}
	if publisher.encounter[2].Pattern != "goodbye" {
		t.Errorf("Expected end pattern goodbye, got %q", publisher.encounter[2].Pattern)
	}
	if detector.State() != encounter.StateIdle {
		t.Errorf("Expected detector idle after run, got %s", detector.State())
	}
}

func TestSession_PotentialEndWaitsForConfirmation(t *testing.T) {
	client := newFakeTranscriber()
	detector := newTestDetector()
	session := NewSession(Config{}, client, detector, &fakePublisher{})

	detector.StartMonitoring()
	detector.EncounterStartedManually()

	session.handleTranscriptEvent(context.Background(), finalEvent(transcript.SpeakerPatient, "Thanks, bye bye"))

	if detector.State() != encounter.StatePotentialEnd {
		t.Errorf("Expected potential_end without auto confirm, got %s", detector.State())
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	client := newFakeTranscriber()
	client.connectErr = stt.ErrInvalidConfiguration
	detector := newTestDetector()

	session := NewSession(Config{}, client, detector, &fakePublisher{})

	err := session.Run(context.Background(), bytes.NewReader(nil))
	if !errors.Is(err, stt.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
	if detector.State() != encounter.StateIdle {
		t.Errorf("Expected detector idle, got %s", detector.State())
	}
}

func TestSession_CancelledContextStopsReading(t *testing.T) {
	client := newFakeTranscriber()
	session := NewSession(Config{SamplesPerChunk: 160}, client, newTestDetector(), &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := session.Run(ctx, bytes.NewReader(loudAudio(5, 160))); err != nil {
		t.Fatalf("Expected clean stop, got %v", err)
	}
	if len(client.chunks) != 0 {
		t.Errorf("Expected no audio after cancellation, got %d chunks", len(client.chunks))
	}
}

func TestSession_FinishFailureStillCloses(t *testing.T) {
	client := newFakeTranscriber(finalEvent(transcript.SpeakerPhysician, "See you soon"))
	client.finishErr = context.DeadlineExceeded
	session := NewSession(Config{SamplesPerChunk: 160}, client, newTestDetector(), &fakePublisher{})

	if err := session.Run(context.Background(), bytes.NewReader(loudAudio(2, 160))); err != nil {
		t.Fatalf("Expected a finish timeout not to fail the run, got %v", err)
	}
	if strings.Join(client.lifecycle, ",") != "finish,close" {
		t.Errorf("Expected close after a failed finish, got %v", client.lifecycle)
	}
	if len(session.Transcript()) != 1 {
		t.Errorf("Expected queued segment to be handled, got %d", len(session.Transcript()))
	}
}

func TestSession_Ready(t *testing.T) {
	client := newFakeTranscriber()
	session := NewSession(Config{}, client, newTestDetector(), &fakePublisher{})
	ctx := context.Background()

	if ready, err := session.Ready(ctx); ready || err == nil {
		t.Errorf("Expected not ready before connecting, got %v (%v)", ready, err)
	}

	session.handleTranscriptEvent(ctx, stt.Event{Kind: stt.EventConnectionChanged, Connected: true})
	if ready, err := session.Ready(ctx); !ready || err != nil {
		t.Errorf("Expected ready, got %v (%v)", ready, err)
	}

	session.handleTranscriptEvent(ctx, stt.Event{Kind: stt.EventConnectionChanged, Connected: false})
	client.attempt = 3
	_, err := session.Ready(ctx)
	if err == nil || !strings.Contains(err.Error(), "attempt 3") {
		t.Errorf("Expected reconnecting error, got %v", err)
	}

	session.handleTranscriptEvent(ctx, stt.Event{Kind: stt.EventError, Err: stt.ErrExhaustedRetries})
	_, err = session.Ready(ctx)
	if !errors.Is(err, stt.ErrExhaustedRetries) {
		t.Errorf("Expected ErrExhaustedRetries, got %v", err)
	}
}
