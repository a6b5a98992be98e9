package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в Kafka. Topic выбирается по
// типу агрегата, если не задан явно.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher для transactional outbox. Пустой topic
// включает маршрутизацию через TopicFor.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	return &OutboxPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewDLQPublisher создаёт publisher, пишущий в TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer) *OutboxPublisher {
	return NewOutboxPublisher(producer, TopicDeadLetterQueue)
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	topic := p.topic
	if topic == "" {
		topic = TopicFor(event.AggregateType)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(ctx, topic, key, NewEnvelope(event, p.now()),
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType)})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
