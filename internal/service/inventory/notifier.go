package inventory

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// LogNotifier пишет оповещения об остатках в лог. Используется, когда внешний
// канал доставки не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт оповещатель поверх логгера.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "stock-notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyLowStock(_ context.Context, product domain.Product, previousStock, newStock int32) error {
	n.logger.WithFields(log.Fields{
		"product_id":      product.ID,
		"seller_id":       product.SellerID,
		"previous_stock":  previousStock,
		"new_stock":       newStock,
		"min_stock_level": product.MinStockLevel,
	}).Warn("low stock")
	return nil
}

func (n *LogNotifier) NotifyOutOfStock(_ context.Context, product domain.Product) error {
	n.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"seller_id":  product.SellerID,
	}).Warn("out of stock")
	return nil
}

var _ domain.StockNotifier = (*LogNotifier)(nil)
