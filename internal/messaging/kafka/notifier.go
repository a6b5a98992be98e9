package kafka

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// StockNotifier пишет оповещения об остатках в TopicStockAlerts с ключом по ID товара.
type StockNotifier struct {
	producer *Producer
	now      func() time.Time
}

// NewStockNotifier создаёт оповещатель поверх producer.
func NewStockNotifier(producer *Producer) *StockNotifier {
	return &StockNotifier{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *StockNotifier) NotifyLowStock(ctx context.Context, product domain.Product, previousStock, newStock int32) error {
	return n.send(ctx, AlertKindLowStock, product, previousStock, newStock)
}

func (n *StockNotifier) NotifyOutOfStock(ctx context.Context, product domain.Product) error {
	return n.send(ctx, AlertKindOutOfStock, product, 0, 0)
}

func (n *StockNotifier) send(ctx context.Context, kind string, product domain.Product, previousStock, newStock int32) error {
	alert := StockAlert{
		Kind:          kind,
		ProductID:     product.ID,
		SellerID:      product.SellerID,
		Name:          product.Name,
		PreviousStock: previousStock,
		NewStock:      newStock,
		MinStockLevel: product.MinStockLevel,
		RaisedAt:      n.now(),
	}
	return n.producer.PublishEvent(ctx, TopicStockAlerts, product.ID, alert)
}

var _ domain.StockNotifier = (*StockNotifier)(nil)
