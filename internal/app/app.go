// Package app builds the service's dependency graph.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/samber/do/v2"

	"github.com/lexiqai/encounter-scribe/internal/classifier"
	"github.com/lexiqai/encounter-scribe/internal/config"
	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/events"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/pipeline"
	"github.com/lexiqai/encounter-scribe/internal/stt"
)

const handshakeTimeout = 10 * time.Second

// STTConfig maps service configuration onto the streaming client settings
func STTConfig(cfg *config.Config) stt.Config {
	c := stt.DefaultConfig(cfg.DeepgramAPIKey)
	c.BaseURL = cfg.DeepgramBaseURL
	c.Options.Model = cfg.DeepgramModel
	c.Options.Language = cfg.DeepgramLanguage
	c.Options.SampleRate = cfg.AudioSampleRate
	c.Options.Diarize = cfg.DeepgramDiarize
	c.Options.InterimResults = cfg.DeepgramInterimResults
	c.Options.Punctuate = cfg.DeepgramPunctuate
	c.PendingChunks = cfg.PendingAudioChunks
	c.KeepAliveInterval = cfg.KeepAliveDuration()
	c.Reconnect.MaxAttempts = cfg.ReconnectMaxAttempts
	c.Reconnect.MaxBackoff = cfg.ReconnectMaxBackoffDuration()
	return c
}

// EncounterConfig maps service configuration onto the detector settings
func EncounterConfig(cfg *config.Config) encounter.Config {
	return encounter.Config{
		Enabled:                 cfg.DetectionEnabled,
		SpeechActivityThreshold: cfg.SpeechActivityThreshold,
		SilenceThreshold:        time.Duration(cfg.SilenceThresholdSeconds) * time.Second,
		MinEncounterDuration:    time.Duration(cfg.MinEncounterDurationSeconds) * time.Second,
		BufferDuration:          time.Duration(cfg.BufferDurationSeconds) * time.Second,
		UseLLMForDetection:      cfg.UseLLMForDetection,
		ClassifierTimeout:       cfg.ClassifierTimeoutDuration(),
		EndKeywords:             cfg.EndKeywords,
	}
}

// PipelineConfig maps service configuration onto the session settings
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SampleRate:      cfg.AudioSampleRate,
		SamplesPerChunk: cfg.AudioChunkSamples,
		Realtime:        cfg.AudioRealtime,
		AutoConfirmEnd:  cfg.AutoConfirmEnd,
		DrainTimeout:    time.Duration(cfg.AudioDrainSeconds) * time.Second,
	}
}

// EventsConfig maps service configuration onto the Kafka publisher settings
func EventsConfig(cfg *config.Config) *events.Config {
	return &events.Config{
		Brokers:        cfg.KafkaBrokers,
		TopicPartial:   cfg.KafkaTopicPartial,
		TopicFinal:     cfg.KafkaTopicFinal,
		TopicEncounter: cfg.KafkaTopicEncounter,
		Principal:      cfg.KafkaPrincipal,
		Enabled:        cfg.KafkaEnabled,
	}
}

// NewInjector registers every service component
func NewInjector(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	registerTranscription(injector)
	registerDetection(injector)
	registerEvents(injector)
	registerPipeline(injector)

	return injector
}

func registerTranscription(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (stt.Transport, error) {
		c := do.MustInvoke[*config.Config](i)
		return stt.NewWebSocketTransport(handshakeTimeout, c.PendingAudioChunks*4), nil
	})
	do.Provide(injector, func(i do.Injector) (*stt.StreamingClient, error) {
		c := do.MustInvoke[*config.Config](i)
		transport := do.MustInvoke[stt.Transport](i)
		return stt.NewStreamingClient(STTConfig(c), transport), nil
	})
}

func registerDetection(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (classifier.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		client, err := classifier.NewFromConfig(c)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.New("classifier disabled")
		}
		return client, nil
	})
	do.Provide(injector, func(i do.Injector) (*encounter.Detector, error) {
		c := do.MustInvoke[*config.Config](i)
		var opts []encounter.Option
		if c.ClassifierMode != config.ClassifierModeNone {
			client, err := do.Invoke[classifier.Client](i)
			if err != nil {
				return nil, err
			}
			opts = append(opts, encounter.WithClassifier(client))
		}
		return encounter.NewDetector(EncounterConfig(c), opts...), nil
	})
}

func registerEvents(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*events.Publisher, error) {
		c := do.MustInvoke[*config.Config](i)
		return events.New(EventsConfig(c)), nil
	})
}

func registerPipeline(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pipeline.Session, error) {
		c := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[*stt.StreamingClient](i)
		detector := do.MustInvoke[*encounter.Detector](i)
		publisher := do.MustInvoke[*events.Publisher](i)
		return pipeline.NewSession(PipelineConfig(c), client, detector, publisher), nil
	})
}

// ReadinessChecks returns the checks served on /ready
func ReadinessChecks(injector do.Injector) map[string]observability.HealthCheckFunc {
	cfg := do.MustInvoke[*config.Config](injector)
	session := do.MustInvoke[*pipeline.Session](injector)

	checks := map[string]observability.HealthCheckFunc{
		"transcription": session.Ready,
	}
	if cfg.ClassifierMode != config.ClassifierModeNone {
		client := do.MustInvoke[classifier.Client](injector)
		checks["classifier"] = func(ctx context.Context) (bool, error) {
			return client.HealthCheck(ctx)
		}
	}
	return checks
}

// Close releases the publisher and the classifier connection
func Close(injector do.Injector) error {
	cfg := do.MustInvoke[*config.Config](injector)

	var errs []error
	if publisher, err := do.Invoke[*events.Publisher](injector); err == nil {
		errs = append(errs, publisher.Close())
	}
	if cfg.ClassifierMode != config.ClassifierModeNone {
		if client, err := do.Invoke[classifier.Client](injector); err == nil {
			errs = append(errs, client.Close())
		}
	}
	return errors.Join(errs...)
}
