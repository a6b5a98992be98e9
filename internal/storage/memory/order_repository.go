package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository.
type orderRepository struct {
	scope
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	defer r.lock()()

	if _, exists := r.s.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	remember(r.scope, r.s.orders, order.ID)
	r.s.orders[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	defer r.rlock()()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	defer r.rlock()()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	defer r.lock()()

	current, ok := r.s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	remember(r.scope, r.s.orders, order.ID)
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r *orderRepository) Delete(_ context.Context, id string) error {
	defer r.lock()()

	if _, ok := r.s.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	remember(r.scope, r.s.orders, id)
	delete(r.s.orders, id)
	return nil
}

func (r *orderRepository) Statistics(_ context.Context) (domain.OrderStatistics, error) {
	defer r.rlock()()

	stats := domain.OrderStatistics{ByStatus: make(map[domain.OrderStatus]int)}
	for _, order := range r.s.orders {
		stats.Total++
		stats.ByStatus[order.Status]++
		if order.PaymentStatus == domain.PaymentStatusCompleted && order.Status != domain.OrderStatusCancelled {
			stats.RevenueMinor += order.AmountMinor
		}
	}
	return stats, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
