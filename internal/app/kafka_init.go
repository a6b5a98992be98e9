package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
)

// splitBrokers разбирает список брокеров через запятую, отбрасывая пустые элементы.
func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список возвращает nil, nil.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, kafka.DefaultProducerConfig())
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// stockNotifier выбирает канал уведомлений о остатках.
func stockNotifier(producer *kafka.Producer, logger *log.Entry) domain.StockNotifier {
	if producer != nil {
		return kafka.NewStockNotifier(producer)
	}
	return inventory.NewLogNotifier(logger.WithField("component", "stock-notifier"))
}

// outboxTargets собирает получателей outbox. Когда события остатков читает
// consumer group, локальный обработчик алертов из fanout исключается.
func outboxTargets(cfg Config, producer *kafka.Producer, alerts domain.OutboxPublisher) []outbox.Target {
	var targets []outbox.Target
	if producer == nil || !cfg.StockAlertsViaKafka {
		targets = append(targets, outbox.Target{Name: "stock-alerts", Publisher: alerts})
	}
	if producer != nil {
		targets = append(targets, outbox.Target{Name: "kafka", Publisher: kafka.NewOutboxPublisher(producer, "")})
	}
	return targets
}
