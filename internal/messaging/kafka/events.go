package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "marketplace.order.events"
	TopicStockEvents     = "marketplace.stock.events"
	TopicStockAlerts     = "marketplace.stock.alerts"
	TopicDeadLetterQueue = "marketplace.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicFor выбирает topic по типу агрегата: события товаров уходят в поток
// остатков, заказов и платежей в поток заказов.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateProduct {
		return TopicStockEvents
	}
	return TopicOrderEvents
}

// Envelope — JSON-конверт события outbox в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		CreatedAt:     msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}

// OutboxMessage восстанавливает сообщение outbox из конверта.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
		CreatedAt:     e.CreatedAt,
	}
}

// ParseEnvelope разбирает конверт из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope at %s/%d/%d has no event type", message.Topic, message.Partition, message.Offset)
	}
	return env, nil
}

// StockAlert — оповещение об остатке в topic marketplace.stock.alerts.
type StockAlert struct {
	Kind          string    `json:"kind"`
	ProductID     string    `json:"product_id"`
	SellerID      string    `json:"seller_id"`
	Name          string    `json:"name,omitempty"`
	PreviousStock int32     `json:"previous_stock,omitempty"`
	NewStock      int32     `json:"new_stock"`
	MinStockLevel int32     `json:"min_stock_level"`
	RaisedAt      time.Time `json:"raised_at"`
}

// Значения StockAlert.Kind.
const (
	AlertKindLowStock   = "low_stock"
	AlertKindOutOfStock = "out_of_stock"
)
