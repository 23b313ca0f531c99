// Package events publishes caption and compliance events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/lexiqai/caption-qos/internal/captions"
	"github.com/lexiqai/caption-qos/internal/compliance"
	"github.com/lexiqai/caption-qos/internal/config"
	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/resilience"
)

const (
	eventTypeCaption = "caption.delivered"
	eventTypeVerdict = "compliance.verdict"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes caption and verdict events to their topics.
// When Kafka is disabled it only logs the events.
type Publisher struct {
	captionWriter messageWriter
	verdictWriter messageWriter
	captionTopic  string
	verdictTopic  string
	brokers       []string
	enabled       bool
	retry         *resilience.RetryConfig
	logger        zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	CaptionTopic string
	VerdictTopic string
	Enabled      bool
	Retry        *resilience.RetryConfig
}

// ConfigFromService maps service configuration onto the publisher
func ConfigFromService(cfg *config.Config) *Config {
	return &Config{
		Brokers:      cfg.KafkaBrokers,
		CaptionTopic: cfg.KafkaCaptionTopic,
		VerdictTopic: cfg.KafkaVerdictTopic,
		Enabled:      cfg.KafkaEnabled,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

// New creates a publisher. A nil config, Enabled=false or no brokers give log-only mode.
func New(cfg *Config, logger zerolog.Logger) *Publisher {
	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{logger: logger}
	}

	p := &Publisher{
		captionTopic: cfg.CaptionTopic,
		verdictTopic: cfg.VerdictTopic,
		retry:        cfg.Retry,
		logger:       logger,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	p.brokers = cfg.Brokers
	p.captionWriter = newWriter(cfg.Brokers, cfg.CaptionTopic, transport)
	p.verdictWriter = newWriter(cfg.Brokers, cfg.VerdictTopic, transport)
	p.enabled = true

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("caption_topic", cfg.CaptionTopic).
		Str("verdict_topic", cfg.VerdictTopic).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keyed by call ID so a call's events stay ordered
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Ready dials the first reachable broker. A disabled publisher is always ready.
func (p *Publisher) Ready(ctx context.Context) (bool, error) {
	if !p.enabled {
		return true, nil
	}

	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return true, nil
	}
	return false, fmt.Errorf("no Kafka broker reachable: %w", lastErr)
}

// PublishCaption publishes a delivered caption keyed by call ID
func (p *Publisher) PublishCaption(ctx context.Context, event captions.Event) error {
	return p.publish(ctx, p.captionWriter, p.captionTopic, eventTypeCaption, event.CallID, event)
}

// PublishVerdict publishes a compliance verdict keyed by call ID
func (p *Publisher) PublishVerdict(ctx context.Context, verdict compliance.Verdict) error {
	return p.publish(ctx, p.verdictWriter, p.verdictTopic, eventTypeVerdict, verdict.CallID, verdict)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	}

	err = resilience.Retry(ctx, p.retry, func() error {
		return writer.WriteMessages(ctx, msg)
	}, resilience.IsRetryableNetworkError)
	observability.RecordKafkaPublish(topic, err)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close closes both writers
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []messageWriter{p.captionWriter, p.verdictWriter} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
