// Package pipeline connects captured audio, the streaming transcription
// client, the encounter detector and the event publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/audio"
	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/events"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/stt"
	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

const (
	publishTimeout      = 5 * time.Second
	defaultDrainTimeout = 5 * time.Second
)

// Transcriber is the streaming transcription client as seen by a session
type Transcriber interface {
	Connect(ctx context.Context) error
	SendAudio(samples []int16)
	Finish(ctx context.Context) error
	Events() <-chan stt.Event
	ReconnectAttempt() int
	Close() error
}

// Detector is the encounter detector as seen by a session
type Detector interface {
	StartMonitoring()
	Stop()
	ProcessSpeechActivity(level float64)
	ProcessTranscript(ctx context.Context, text string)
	ConfirmEncounterEnd()
	State() encounter.State
	Events() <-chan encounter.Event
}

// Publisher receives session events
type Publisher interface {
	PublishPartial(ctx context.Context, event events.TranscriptPartial) error
	PublishFinal(ctx context.Context, event events.TranscriptFinal) error
	PublishEncounter(ctx context.Context, event events.EncounterState) error
}

// Config controls how a session reads audio and handles detected ends
type Config struct {
	SampleRate      int
	SamplesPerChunk int
	Realtime        bool // pace chunks at the capture rate
	AutoConfirmEnd  bool // confirm a detected end and resume monitoring

	// DrainTimeout bounds the wait at end of input for buffered audio to be
	// sent and for the provider to return its last results.
	DrainTimeout time.Duration
}

// Session runs one recording session: it streams audio to the transcriber
// and the detector, and routes transcripts and detector events.
type Session struct {
	id        string
	cfg       Config
	client    Transcriber
	detector  Detector
	publisher Publisher
	logger    zerolog.Logger

	mu        sync.RWMutex
	segments  []transcript.Segment
	connected bool
	failure   error
}

// NewSession creates a session with a fresh id
func NewSession(cfg Config, client Transcriber, detector Detector, publisher Publisher) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.SamplesPerChunk <= 0 {
		cfg.SamplesPerChunk = cfg.SampleRate / 10
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	id := uuid.NewString()
	logger := observability.WithCorrelationID(id).
		With().
		Str("component", "pipeline").
		Logger()

	return &Session{
		id:        id,
		cfg:       cfg,
		client:    client,
		detector:  detector,
		publisher: publisher,
		logger:    logger,
	}
}

// ID returns the session id used as the event key
func (s *Session) ID() string {
	return s.id
}

// Run streams audio from r until EOF or ctx is done. It then lets the
// transcriber finish the stream, closes it and waits for the remaining
// events to be handled.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	s.logger.Info().Msg("Session starting")
	s.detector.StartMonitoring()

	if err := s.client.Connect(ctx); err != nil {
		s.detector.Stop()
		return fmt.Errorf("failed to connect transcription client: %w", err)
	}

	transcriptsDone := make(chan struct{})
	go func() {
		defer close(transcriptsDone)
		s.consumeTranscripts(ctx)
	}()

	stopDetector := make(chan struct{})
	detectorDone := make(chan struct{})
	go func() {
		defer close(detectorDone)
		s.consumeDetector(ctx, stopDetector)
	}()

	readErr := s.streamAudio(ctx, r)
	s.drain(ctx)

	if err := s.client.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing transcription client")
	}
	<-transcriptsDone

	s.detector.Stop()
	close(stopDetector)
	<-detectorDone

	s.logger.Info().Int("segments", len(s.Transcript())).Msg("Session finished")
	return readErr
}

// drain waits, within DrainTimeout, for buffered audio to reach the provider
// and for its results on that audio to arrive.
func (s *Session) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DrainTimeout)
	defer cancel()

	start := time.Now()
	if err := s.client.Finish(drainCtx); err != nil {
		s.logger.Warn().Err(err).Dur("waited", time.Since(start)).Msg("Transcription stream did not finish cleanly")
		return
	}
	s.logger.Info().Dur("waited", time.Since(start)).Msg("Transcription stream drained")
}

func (s *Session) streamAudio(ctx context.Context, r io.Reader) error {
	reader := audio.NewChunkReader(r, s.cfg.SamplesPerChunk)

	var tick <-chan time.Time
	if s.cfg.Realtime {
		interval := time.Duration(s.cfg.SamplesPerChunk) * time.Second / time.Duration(s.cfg.SampleRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Closing the input on shutdown surfaces here as a read error
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read audio: %w", err)
		}

		s.detector.ProcessSpeechActivity(chunk.Level)
		s.client.SendAudio(chunk.Samples)

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
}

func (s *Session) consumeTranscripts(ctx context.Context) {
	for ev := range s.client.Events() {
		s.handleTranscriptEvent(ctx, ev)
	}
}

func (s *Session) handleTranscriptEvent(ctx context.Context, ev stt.Event) {
	switch ev.Kind {
	case stt.EventInterim:
		s.publish(ctx, func(ctx context.Context) error {
			return s.publisher.PublishPartial(ctx, events.NewTranscriptPartial(s.id, ev.Interim, time.Now()))
		})

	case stt.EventFinal:
		s.mu.Lock()
		s.segments = append(s.segments, ev.Segment)
		s.mu.Unlock()

		s.logger.Info().
			Str("speaker", string(ev.Segment.Speaker)).
			Str("text", ev.Segment.Text).
			Msg("Transcript segment")

		s.publish(ctx, func(ctx context.Context) error {
			return s.publisher.PublishFinal(ctx, events.NewTranscriptFinal(s.id, uuid.NewString(), ev.Segment))
		})

		s.detector.ProcessTranscript(ctx, ev.Segment.Text)
		if s.cfg.AutoConfirmEnd && s.detector.State() == encounter.StatePotentialEnd {
			s.logger.Info().Msg("Confirming detected encounter end")
			s.detector.ConfirmEncounterEnd()
			s.detector.StartMonitoring()
		}

	case stt.EventConnectionChanged:
		s.mu.Lock()
		s.connected = ev.Connected
		s.mu.Unlock()
		s.logger.Info().Bool("connected", ev.Connected).Msg("Transcription connection changed")

	case stt.EventError:
		var providerErr *stt.ProviderError
		switch {
		case errors.Is(ev.Err, stt.ErrExhaustedRetries):
			s.mu.Lock()
			s.failure = ev.Err
			s.mu.Unlock()
			s.logger.Error().Err(ev.Err).Msg("Transcription connection lost for good")
		case errors.As(ev.Err, &providerErr):
			s.logger.Warn().Err(ev.Err).Msg("Transcription provider reported an error")
		default:
			s.logger.Warn().Err(ev.Err).Msg("Transcription client error")
		}
	}
}

// consumeDetector publishes detector events until stop is closed, then
// drains whatever is already buffered.
func (s *Session) consumeDetector(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case ev := <-s.detector.Events():
			s.handleDetectorEvent(ctx, ev)
		case <-stop:
			for {
				select {
				case ev := <-s.detector.Events():
					s.handleDetectorEvent(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) handleDetectorEvent(ctx context.Context, ev encounter.Event) {
	s.publish(ctx, func(ctx context.Context) error {
		return s.publisher.PublishEncounter(ctx, events.NewEncounterState(s.id, ev))
	})
}

// publish runs fn with its own deadline so events still go out while the
// session is shutting down.
func (s *Session) publish(ctx context.Context, fn func(ctx context.Context) error) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := fn(pubCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish event")
	}
}

// Transcript returns a copy of the finalized segments so far
func (s *Session) Transcript() []transcript.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]transcript.Segment(nil), s.segments...)
}

// Ready reports whether the transcription connection is up. It fails while
// reconnecting and after reconnects are exhausted.
func (s *Session) Ready(ctx context.Context) (bool, error) {
	s.mu.RLock()
	connected, failure := s.connected, s.failure
	s.mu.RUnlock()

	if failure != nil {
		return false, failure
	}
	if !connected {
		if attempt := s.client.ReconnectAttempt(); attempt > 0 {
			return false, fmt.Errorf("transcription reconnecting (attempt %d)", attempt)
		}
		return false, errors.New("transcription not connected")
	}
	return true, nil
}
