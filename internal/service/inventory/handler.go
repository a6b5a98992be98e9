package inventory

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// AlertHandler получает события ProductStockChanged уже после фиксации
// изменения остатка и передаёт оповещения в StockNotifier. Ошибки доставки
// логируются и не возвращаются: повторов нет, изменение остатка не откатывается.
type AlertHandler struct {
	notifier domain.StockNotifier
	logger   *log.Entry
	metrics  *metrics.Metrics
}

// NewAlertHandler создаёт обработчик событий остатков.
func NewAlertHandler(notifier domain.StockNotifier, logger *log.Entry, m *metrics.Metrics) *AlertHandler {
	if logger == nil {
		logger = log.New().WithField("component", "stock-alerts")
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &AlertHandler{notifier: notifier, logger: logger, metrics: m}
}

// Publish позволяет подключить обработчик к outbox-воркеру как ещё одного получателя.
// Сообщения других типов игнорируются.
func (h *AlertHandler) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.EventType != domain.EventTypeStockChanged {
		return nil
	}

	var payload domain.StockChangedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("message_id", msg.ID).Error("malformed stock event, skipped")
		return nil
	}

	h.Handle(ctx, payload)
	return nil
}

// Handle оценивает изменение и отправляет не больше одного оповещения.
func (h *AlertHandler) Handle(ctx context.Context, change domain.StockChangedPayload) AlertKind {
	kind := Evaluate(change.Previous, change.Current, change.MinStockLevel)
	if kind == AlertNone {
		return kind
	}

	product := domain.Product{
		ID:            change.ProductID,
		SellerID:      change.SellerID,
		Name:          change.Name,
		StockQuantity: change.Current,
		MinStockLevel: change.MinStockLevel,
	}

	var err error
	switch kind {
	case AlertOutOfStock:
		err = h.notifier.NotifyOutOfStock(ctx, product)
	case AlertLowStock:
		err = h.notifier.NotifyLowStock(ctx, product, change.Previous, change.Current)
	}

	logger := h.logger.WithFields(log.Fields{
		"product_id":     change.ProductID,
		"alert":          string(kind),
		"previous_stock": change.Previous,
		"new_stock":      change.Current,
	})
	if err != nil {
		h.metrics.RecordStockAlert(string(kind), metrics.ResultFailure)
		logger.WithError(err).Warn("stock notification failed")
		return kind
	}
	h.metrics.RecordStockAlert(string(kind), metrics.ResultSuccess)
	logger.Debug("stock notification sent")
	return kind
}

var _ domain.OutboxPublisher = (*AlertHandler)(nil)
