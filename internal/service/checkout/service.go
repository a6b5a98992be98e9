// Package checkout превращает корзину покупателя в неизменяемый заказ,
// резервируя остатки в той же транзакции.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
)

// CartInvalidator сбрасывает кэш корзины после фиксации заказа.
type CartInvalidator interface {
	Invalidate(ctx context.Context, buyerID string)
}

// Service оформляет заказы.
type Service struct {
	store    domain.Store
	carts    CartInvalidator
	logger   *log.Entry
	metrics  *metrics.Metrics
	now      func() time.Time
	currency string
}

// Option настраивает Service.
type Option func(*Service)

// WithCartInvalidator подключает сброс кэша корзин.
func WithCartInvalidator(carts CartInvalidator) Option {
	return func(s *Service) { s.carts = carts }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики оформления.
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

// WithCurrency задаёт валюту новых заказов.
func WithCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

// NewService создаёт сервис оформления заказов.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   log.New().WithField("component", "checkout"),
		now:      func() time.Time { return time.Now().UTC() },
		currency: domain.DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout оформляет корзину покупателя. Проверка остатков, списание, создание
// заказа, очистка корзины и события outbox фиксируются одной транзакцией.
// При проблемах с позициями возвращается *domain.CheckoutError и ничего не меняется.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, buyerID, shippingAddress string) (domain.Order, error) {
	start := s.now()
	order, err := s.checkout(ctx, actor, buyerID, strings.TrimSpace(shippingAddress))
	s.metrics.RecordCheckout(checkoutResult(err), s.now().Sub(start))
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"buyer_id": buyerID,
			"code":     domain.Code(err),
		}).Warn("checkout failed")
		return domain.Order{}, err
	}

	if s.carts != nil {
		s.carts.Invalidate(ctx, buyerID)
	}
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"buyer_id":     buyerID,
		"amount_minor": order.AmountMinor,
		"items":        len(order.Items),
	}).Info("order created")
	return order, nil
}

func (s *Service) checkout(ctx context.Context, actor domain.Actor, buyerID, shippingAddress string) (domain.Order, error) {
	if buyerID == "" {
		return domain.Order{}, domain.ErrBuyerRequired
	}
	if err := actor.RequireOwner(buyerID); err != nil {
		return domain.Order{}, err
	}
	if shippingAddress == "" {
		return domain.Order{}, domain.ErrShippingAddressRequired
	}

	var created domain.Order
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		current, err := repos.Carts.GetByBuyer(ctx, buyerID)
		if err != nil {
			if domain.IsNotFound(err) {
				return &domain.CheckoutError{Problems: map[string]error{cart.ProblemCartKey: domain.ErrCartEmpty}}
			}
			return err
		}

		problems, err := cart.Problems(ctx, repos.Products, current)
		if err != nil {
			return err
		}
		if len(problems) > 0 {
			return &domain.CheckoutError{Problems: problems}
		}

		now := s.now()
		order := domain.Order{
			ID:              uuid.NewString(),
			BuyerID:         buyerID,
			Status:          domain.OrderStatusPending,
			PaymentStatus:   domain.PaymentStatusPending,
			Currency:        s.currency,
			ShippingAddress: shippingAddress,
			Items:           make([]domain.OrderItem, 0, len(current.Items)),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		changes := make([]domain.StockChange, 0, len(current.Items))
		for _, line := range current.ItemsByProduct() {
			change, err := repos.Products.AdjustStock(ctx, line.ProductID, -line.Qty)
			if err != nil {
				return reserveError(line, err)
			}
			changes = append(changes, change)

			product, err := repos.Products.Get(ctx, line.ProductID)
			if err != nil {
				return err
			}
			item := domain.OrderItem{
				ID:             uuid.NewString(),
				ProductID:      product.ID,
				SellerID:       product.SellerID,
				Qty:            line.Qty,
				UnitPriceMinor: product.PriceMinor,
				LineTotalMinor: int64(line.Qty) * product.PriceMinor,
				CreatedAt:      now,
			}
			order.Items = append(order.Items, item)
			order.AmountMinor += item.LineTotalMinor
		}

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return fmt.Errorf("build order: %w", errs[0])
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}

		current.Clear(now)
		if err := repos.Carts.Save(ctx, current); err != nil {
			return err
		}

		msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventTypeOrderCreated,
			domain.NewOrderEventPayload(order, "", now))
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order created: %w", err)
		}
		for _, change := range changes {
			if err := inventory.EnqueueStockChange(ctx, repos.Outbox, change, domain.StockReasonCheckout, order.ID, now); err != nil {
				return err
			}
		}

		if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.EventTypeOrderCreated,
			ActorID:  actor.ID,
			Occurred: now,
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

// reserveError превращает нехватку остатка, возникшую в гонке после проверки,
// в ту же ошибку оформления, что и при обычной проверке.
func reserveError(line domain.CartItem, err error) error {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return &domain.CheckoutError{Problems: map[string]error{line.ProductID: domain.ErrProductNotFound}}
	case errors.Is(err, domain.ErrInsufficientStock):
		return &domain.CheckoutError{Problems: map[string]error{line.ProductID: err}}
	default:
		return err
	}
}

func checkoutResult(err error) string {
	var checkoutErr *domain.CheckoutError
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.As(err, &checkoutErr), errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrForbidden):
		return metrics.ResultRejected
	default:
		return metrics.ResultFailure
	}
}
