// Package events publishes transcript and encounter events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/lexiqai/encounter-scribe/internal/observability"
)

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicPartial   string
	TopicFinal     string
	TopicEncounter string
	Principal      string
	Enabled        bool
}

// Publisher writes events to one topic per event family. With Kafka
// disabled it only logs.
type Publisher struct {
	writers map[string]messageWriter
	cfg     Config
	enabled bool
	logger  zerolog.Logger
}

// New creates a publisher. A nil config, Enabled=false or no brokers gives log-only mode.
func New(cfg *Config) *Publisher {
	logger := observability.WithComponent("events")

	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{logger: logger}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{cfg: *cfg, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writers := make(map[string]messageWriter, 3)
	for _, topic := range []string{cfg.TopicPartial, cfg.TopicFinal, cfg.TopicEncounter} {
		if topic == "" {
			continue
		}
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicEncounter", cfg.TopicEncounter).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writers: writers,
		cfg:     *cfg,
		enabled: true,
		logger:  logger,
	}
}

// Enabled reports whether events go to Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishPartial publishes an interim transcript event
func (p *Publisher) PublishPartial(ctx context.Context, event TranscriptPartial) error {
	return p.publish(ctx, p.cfg.TopicPartial, event.EventType, event.SessionID, event)
}

// PublishFinal publishes a final segment event
func (p *Publisher) PublishFinal(ctx context.Context, event TranscriptFinal) error {
	return p.publish(ctx, p.cfg.TopicFinal, event.EventType, event.SessionID, event)
}

// PublishEncounter publishes a detector event
func (p *Publisher) PublishEncounter(ctx context.Context, event EncounterState) error {
	return p.publish(ctx, p.cfg.TopicEncounter, event.EventType, event.SessionID, event)
}

// publish keys every message by session id so one session stays on one partition.
func (p *Publisher) publish(ctx context.Context, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.cfg.Principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	writer := p.writers[topic]
	if !p.enabled || writer == nil {
		observability.RecordEventPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.cfg.Principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		observability.RecordEventPublish(topic, err, time.Since(start).Seconds())
		return err
	}

	observability.RecordEventPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close closes every writer and returns the last error.
func (p *Publisher) Close() error {
	var err error
	for topic, w := range p.writers {
		if e := w.Close(); e != nil {
			p.logger.Error().Err(e).Str("topic", topic).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
