// Package order управляет жизненным циклом оформленного заказа: отменой,
// удалением, отгрузкой и доставкой.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service — менеджер жизненного цикла заказа.
type Service struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики переходов.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт менеджер заказов.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New().WithField("component", "order"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает заказ покупателю, продавцу с позициями в заказе или администратору.
func (s *Service) Get(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	order, err := s.store.Repos().Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeView(actor, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListByBuyer возвращает заказы покупателя, новые первыми.
func (s *Service) ListByBuyer(ctx context.Context, actor domain.Actor, buyerID string, limit int) ([]domain.Order, error) {
	if buyerID == "" {
		return nil, domain.ErrBuyerRequired
	}
	if err := actor.RequireOwner(buyerID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.store.Repos().Orders.ListByBuyer(ctx, buyerID, limit)
}

// Timeline возвращает историю заказа. История удалённого заказа доступна только администратору.
func (s *Service) Timeline(ctx context.Context, actor domain.Actor, orderID string) ([]domain.TimelineEvent, error) {
	order, err := s.store.Repos().Orders.Get(ctx, orderID)
	switch {
	case err == nil:
		if err := authorizeView(actor, order); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrOrderNotFound) && actor.IsAdmin():
	default:
		return nil, err
	}
	return s.store.Repos().Timeline.List(ctx, orderID)
}

// Statistics считает заказы по статусам и выручку. Только для администратора.
func (s *Service) Statistics(ctx context.Context, actor domain.Actor) (domain.OrderStatistics, error) {
	if err := actor.RequireRole(domain.RoleAdmin); err != nil {
		return domain.OrderStatistics{}, err
	}
	return s.store.Repos().Orders.Statistics(ctx)
}

// Cancel отменяет заказ в статусе PENDING или CONFIRMED и возвращает остатки
// по всем позициям. Возврат остатков и смена статуса фиксируются вместе.
// Оплата отменённого заказа не возвращается автоматически.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
	reason = strings.TrimSpace(reason)

	var cancelled domain.Order
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		order, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := actor.RequireOwner(order.BuyerID); err != nil {
			return err
		}

		now := s.now()
		if err := order.Apply(domain.EventCancel, now); err != nil {
			return err
		}
		if order.NeedsStockRestore() {
			if err := s.restoreStock(ctx, repos, order, domain.StockReasonCancel, now); err != nil {
				return err
			}
			order.StockReleased = true
		}
		if err := repos.Orders.Save(ctx, order); err != nil {
			return err
		}
		s.metrics.RecordTransition(string(domain.EventCancel))

		if err := enqueueOrderEvent(ctx, repos, order, domain.EventTypeOrderCancelled, reason, now); err != nil {
			return err
		}
		cancelled = order
		return appendTimeline(ctx, repos, order.ID, domain.EventTypeOrderCancelled, reason, actor, now)
	})
	if err != nil {
		s.logFailure(err, "cancel", orderID, actor)
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":       cancelled.ID,
		"actor_id":       actor.ID,
		"payment_status": cancelled.PaymentStatus,
	}).Info("order cancelled")
	return cancelled, nil
}

// Delete удаляет заказ в статусе CONFIRMED, DELIVERED или CANCELLED вместе с
// позициями. Остатки возвращаются, если заказ их ещё держит. Записи платежей
// сохраняются.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, orderID string) error {
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		order, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := actor.RequireOwner(order.BuyerID); err != nil {
			return err
		}
		if !order.CanDelete() {
			return fmt.Errorf("%w (status %s)", domain.ErrCannotDelete, order.Status)
		}

		now := s.now()
		if order.NeedsStockRestore() {
			if err := s.restoreStock(ctx, repos, order, domain.StockReasonDelete, now); err != nil {
				return err
			}
			order.StockReleased = true
		}
		if err := repos.Orders.Delete(ctx, order.ID); err != nil {
			return err
		}

		if err := enqueueOrderEvent(ctx, repos, order, domain.EventTypeOrderDeleted, "", now); err != nil {
			return err
		}
		return appendTimeline(ctx, repos, order.ID, domain.EventTypeOrderDeleted, "", actor, now)
	})
	if err != nil {
		s.logFailure(err, "delete", orderID, actor)
		return err
	}

	s.logger.WithFields(log.Fields{"order_id": orderID, "actor_id": actor.ID}).Info("order deleted")
	return nil
}

// MarkShipped переводит оплаченный заказ в SHIPPED. Доступно продавцу с
// позициями в заказе и администратору.
func (s *Service) MarkShipped(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	return s.fulfil(ctx, actor, orderID, domain.EventShip, domain.EventTypeOrderShipped)
}

// MarkDelivered переводит заказ из CONFIRMED или SHIPPED в DELIVERED и
// проставляет дату доставки, если она не задана.
func (s *Service) MarkDelivered(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	return s.fulfil(ctx, actor, orderID, domain.EventDeliver, domain.EventTypeOrderDelivered)
}

func (s *Service) fulfil(ctx context.Context, actor domain.Actor, orderID string, event domain.OrderEvent, eventType string) (domain.Order, error) {
	var updated domain.Order
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		order, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeFulfilment(actor, order); err != nil {
			return err
		}

		now := s.now()
		if err := order.Apply(event, now); err != nil {
			return err
		}
		if event == domain.EventDeliver && order.DeliveryDate == nil {
			delivered := now
			order.DeliveryDate = &delivered
		}
		if err := repos.Orders.Save(ctx, order); err != nil {
			return err
		}
		s.metrics.RecordTransition(string(event))

		if err := enqueueOrderEvent(ctx, repos, order, eventType, "", now); err != nil {
			return err
		}
		updated = order
		return appendTimeline(ctx, repos, order.ID, eventType, "", actor, now)
	})
	if err != nil {
		s.logFailure(err, string(event), orderID, actor)
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"actor_id": actor.ID,
		"status":   updated.Status,
	}).Info("order status updated")
	return updated, nil
}

// restoreStock возвращает количество каждой позиции на остаток товара.
// Удалённый из каталога товар пропускается.
func (s *Service) restoreStock(ctx context.Context, repos domain.Repositories, order domain.Order, reason string, now time.Time) error {
	for _, item := range order.Items {
		change, err := repos.Products.AdjustStock(ctx, item.ProductID, item.Qty)
		if errors.Is(err, domain.ErrProductNotFound) {
			s.logger.WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
			}).Warn("product missing, stock not restored")
			continue
		}
		if err != nil {
			return fmt.Errorf("restore stock for %s: %w", item.ProductID, err)
		}
		if err := inventory.EnqueueStockChange(ctx, repos.Outbox, change, reason, order.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) logFailure(err error, op, orderID string, actor domain.Actor) {
	s.logger.WithError(err).WithFields(log.Fields{
		"op":       op,
		"order_id": orderID,
		"actor_id": actor.ID,
		"code":     domain.Code(err),
	}).Warn("order operation failed")
}

func enqueueOrderEvent(ctx context.Context, repos domain.Repositories, order domain.Order, eventType, reason string, now time.Time) error {
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, eventType,
		domain.NewOrderEventPayload(order, reason, now))
	if err != nil {
		return err
	}
	if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func appendTimeline(ctx context.Context, repos domain.Repositories, orderID, eventType, reason string, actor domain.Actor, now time.Time) error {
	return repos.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		ActorID:  actor.ID,
		Occurred: now,
	})
}

func authorizeView(actor domain.Actor, order domain.Order) error {
	if actor.Owns(order.BuyerID) {
		return nil
	}
	if actor.Role == domain.RoleSeller && order.HasSeller(actor.ID) {
		return nil
	}
	return fmt.Errorf("%w: order %s is not visible to %q", domain.ErrForbidden, order.ID, actor.ID)
}

func authorizeFulfilment(actor domain.Actor, order domain.Order) error {
	if err := actor.RequireRole(domain.RoleSeller); err != nil {
		return err
	}
	if !actor.IsAdmin() && !order.HasSeller(actor.ID) {
		return fmt.Errorf("%w: order %s has no items of seller %q", domain.ErrForbidden, order.ID, actor.ID)
	}
	return nil
}
