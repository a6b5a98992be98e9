// Package kafka связывает outbox и оповещения об остатках с Kafka через IBM/sarama.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ProducerConfig задаёт параметры sync producer.
type ProducerConfig struct {
	ClientID   string
	RetryMax   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultProducerConfig возвращает параметры по умолчанию.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		ClientID:   "marketplace",
		RetryMax:   5,
		RetryDelay: 100 * time.Millisecond,
		Timeout:    10 * time.Second,
	}
}

// Producer публикует сообщения в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// NewProducer создаёт idempotent sync producer с подтверждением от всех реплик.
func NewProducer(brokers []string, cfg ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = cfg.RetryMax
	config.Producer.Retry.Backoff = cfg.RetryDelay
	config.Producer.Timeout = cfg.Timeout
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromClient(producer, nil), nil
}

// NewProducerFromClient оборачивает готовый sarama.SyncProducer (например, mocks.SyncProducer).
func NewProducerFromClient(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PublishEvent сериализует event в JSON и отправляет в topic.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers ...sarama.RecordHeader) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Send(ctx, topic, key, data, headers...)
}

// Send отправляет готовое значение. SyncProducer не принимает контекст,
// поэтому отменённый ctx проверяется только перед отправкой.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers ...sarama.RecordHeader) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: p.now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
