package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlqProducer = producer }
}

// WithMaxRetries задаёт число повторов обработчика до отправки в DLQ.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт базовую задержку между повторами.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает topic'и в consumer group и передаёт сообщения обработчику.
// Сообщение помечается обработанным после успеха или после отправки в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создаёт consumer group с чтением с последнего offset.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// при rebalance Consume завершается, поэтому вызывается в цикле
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые goroutine.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения одной partition по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// позиция не сдвигается: сообщение будет прочитано после перебалансировки
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry вызывает обработчик до maxRetries+1 раз с удвоением
// задержки, затем отправляет сообщение в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var err error
	delay := c.retryDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": attempt + 1,
		}).Warn("message processing failed, will retry")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":  message.Topic,
		"offset": message.Offset,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount извлекает счётчик повторной обработки из headers.
func getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				return count
			}
		}
	}
	return 0
}

// sendToDLQ пересылает исходное сообщение в DLQ с описанием ошибки в headers.
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error) error {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		{Key: []byte(HeaderFailedAt), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(getRetryCount(message) + c.maxRetries + 1))},
	}
	return c.dlqProducer.Send(ctx, TopicDeadLetterQueue, string(message.Key), message.Value, headers...)
}

// OutboxHandler превращает конверт из Kafka обратно в сообщение outbox и
// передаёт его получателю, например обработчику оповещений об остатках.
// Нечитаемые сообщения логируются и пропускаются.
func OutboxHandler(target domain.OutboxPublisher, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-outbox-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		env, err := ParseEnvelope(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed envelope")
			return nil
		}
		return target.Publish(ctx, env.OutboxMessage())
	}
}
