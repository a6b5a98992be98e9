// Команда dlq-reprocess перечитывает marketplace.dlq и возвращает сообщения
// в рабочие topics. По умолчанию работает в режиме dry-run и только логирует
// кандидатов; публикация включается флагом -execute.
//
// В DLQ попадают два вида сообщений:
//   - исходные сообщения consumer group с headers x-original-topic и
//     x-error-message;
//   - конверты outbox, чья публикация исчерпала попытки. Внутри payload лежит
//     исходное событие и текст ошибки.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

const (
	envKafkaBrokers = "MARKETPLACE_KAFKA_BROKERS"

	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errMissingBrokers = errors.New("kafka brokers are required (-brokers or " + envKafkaBrokers + ")")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// outboxDLQPayload — payload конверта, который outbox worker пишет в DLQ.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayProducer реализуется *kafka.Producer.
type replayProducer interface {
	Send(ctx context.Context, topic, key string, value []byte, headers ...sarama.RecordHeader) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.DefaultProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "override replay topic; default is the original topic")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, fmt.Errorf("parse flags: %w", err)
	}

	if strings.TrimSpace(brokersRaw) == "" && lookup != nil {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	if len(cfg.brokers) == 0 {
		return config{}, errMissingBrokers
	}
	if cfg.sourceTopic == "" {
		return config{}, errors.New("source-topic is required")
	}
	if cfg.targetTopic == cfg.sourceTopic {
		return config{}, errors.New("target-topic must differ from source-topic")
	}
	if cfg.limit <= 0 {
		return config{}, errors.New("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"mode":         cfg.mode(),
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	_, err = runReplay(ctx, cfg, client, consumer, producer)
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	log.WithFields(log.Fields{
		"mode":      cfg.mode(),
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if msg.Offset >= newest {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if err := handleMessage(ctx, producer, cfg, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func handleMessage(ctx context.Context, producer replayProducer, cfg config, msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.processed++
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := extractReplayMessage(msg, cfg.targetTopic)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok {
		stats.skipped++
		entry.Debug("skip message without replay data")
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": replay.topic, "key": replay.key})
	if !cfg.execute {
		entry.Info("dlq replay candidate")
		stats.replayed++
		return nil
	}
	if err := producer.Send(ctx, replay.topic, replay.key, replay.value, replay.headers...); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	entry.Info("dlq message replayed")
	stats.replayed++
	return nil
}

// extractReplayMessage восстанавливает исходное сообщение из записи DLQ.
// ok=false означает, что в записи нет данных для повтора.
func extractReplayMessage(msg *sarama.ConsumerMessage, overrideTopic string) (replayMessage, bool, error) {
	if msg == nil || len(msg.Value) == 0 {
		return replayMessage{}, false, nil
	}

	if originalTopic := headerValue(msg, kafka.HeaderOriginalTopic); originalTopic != "" {
		return consumerReplay(msg, firstNonEmpty(overrideTopic, originalTopic)), true, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var dlq outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlq); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlq.Payload) == 0 {
		return replayMessage{}, false, errors.New("outbox dlq payload does not contain original event payload")
	}

	replay := kafka.Envelope{
		ID:            firstNonEmpty(dlq.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlq.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlq.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dlq.EventType, envelope.EventType),
		Payload:       dlq.Payload,
		CreatedAt:     envelope.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic: firstNonEmpty(overrideTopic, kafka.TopicFor(replay.AggregateType)),
		key:   firstNonEmpty(replay.AggregateID, replay.ID),
		value: encoded,
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(replay.EventType)},
		},
	}, true, nil
}

// consumerReplay возвращает исходное сообщение как есть. Служебные headers
// DLQ отбрасываются, чтобы счётчик повторов начинался заново.
func consumerReplay(msg *sarama.ConsumerMessage, topic string) replayMessage {
	var headers []sarama.RecordHeader
	for _, h := range msg.Headers {
		if h == nil || isDLQHeader(string(h.Key)) {
			continue
		}
		headers = append(headers, sarama.RecordHeader{Key: h.Key, Value: h.Value})
	}
	return replayMessage{
		topic:   topic,
		key:     string(msg.Key),
		value:   msg.Value,
		headers: headers,
	}
}

func isDLQHeader(key string) bool {
	switch key {
	case kafka.HeaderOriginalTopic, kafka.HeaderErrorMessage, kafka.HeaderFailedAt, kafka.HeaderRetryCount:
		return true
	}
	return false
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
