// Package inventory управляет каталогом товаров, остатками и оповещениями
// о низком остатке.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const defaultListLimit = 100

// ProductInput — параметры создания товара.
type ProductInput struct {
	// SellerID учитывается только для администратора; продавец создаёт товары от своего имени.
	SellerID      string
	Name          string
	PriceMinor    int64
	StockQuantity int32
	// MinStockLevel = 0 означает порог по умолчанию.
	MinStockLevel int32
}

// Service — операции каталога и ручного пополнения остатков.
type Service struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис каталога.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New().WithField("component", "inventory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProduct заводит товар продавца.
func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, in ProductInput) (domain.Product, error) {
	if err := actor.RequireRole(domain.RoleSeller); err != nil {
		return domain.Product{}, err
	}

	sellerID := actor.ID
	if actor.IsAdmin() && strings.TrimSpace(in.SellerID) != "" {
		sellerID = strings.TrimSpace(in.SellerID)
	}
	minLevel := in.MinStockLevel
	if minLevel == 0 {
		minLevel = domain.DefaultMinStockLevel
	}

	now := s.now()
	product := domain.Product{
		ID:            uuid.NewString(),
		SellerID:      sellerID,
		Name:          strings.TrimSpace(in.Name),
		PriceMinor:    in.PriceMinor,
		StockQuantity: in.StockQuantity,
		MinStockLevel: minLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	if err := s.store.Repos().Products.Create(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"seller_id":  product.SellerID,
		"stock":      product.StockQuantity,
	}).Info("product created")
	return product, nil
}

// GetProduct возвращает товар.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.store.Repos().Products.Get(ctx, productID)
}

// ListBySeller возвращает товары продавца.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.Repos().Products.ListBySeller(ctx, sellerID, limit)
}

// UpdatePrice меняет текущую цену товара. Уже оформленные заказы не меняются.
func (s *Service) UpdatePrice(ctx context.Context, actor domain.Actor, productID string, priceMinor int64) (domain.Product, error) {
	if priceMinor <= 0 {
		return domain.Product{}, domain.ErrPriceInvalid
	}

	var updated domain.Product
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorizeProduct(actor, product); err != nil {
			return err
		}
		product.PriceMinor = priceMinor
		product.UpdatedAt = s.now()
		if err := repos.Products.Save(ctx, product); err != nil {
			return err
		}
		product.Version++
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// UpdateStock выставляет остаток (ручное пополнение или инвентаризация).
// Событие ProductStockChanged фиксируется вместе с остатком; оповещение
// отправляется после фиксации обработчиком событий.
func (s *Service) UpdateStock(ctx context.Context, actor domain.Actor, productID string, quantity int32) (domain.Product, error) {
	if quantity < 0 {
		return domain.Product{}, domain.ErrStockNegative
	}

	var change domain.StockChange
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorizeStock(actor, product); err != nil {
			return err
		}

		change, err = repos.Products.SetStock(ctx, productID, quantity)
		if err != nil {
			return err
		}
		return EnqueueStockChange(ctx, repos.Outbox, change, domain.StockReasonRestock, "", s.now())
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id":     productID,
		"actor_id":       actor.ID,
		"previous_stock": change.Previous,
		"new_stock":      change.Current,
	}).Info("stock updated")

	return s.store.Repos().Products.Get(ctx, productID)
}

// ListLowStock возвращает товары с остатком не выше порога.
func (s *Service) ListLowStock(ctx context.Context, actor domain.Actor, limit int) ([]domain.Product, error) {
	if err := actor.RequireRole(domain.RoleStockManager, domain.RoleSeller); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	products, err := s.store.Repos().Products.ListLowStock(ctx, limit)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleSeller {
		return products, nil
	}

	own := products[:0]
	for _, p := range products {
		if p.SellerID == actor.ID {
			own = append(own, p)
		}
	}
	return own, nil
}

// EnqueueStockChange пишет ProductStockChanged в outbox текущей транзакции.
func EnqueueStockChange(ctx context.Context, outbox domain.OutboxRepository, change domain.StockChange, reason, orderID string, now time.Time) error {
	msg, err := domain.NewOutboxMessage(
		domain.AggregateProduct,
		change.ProductID,
		domain.EventTypeStockChanged,
		domain.NewStockChangedPayload(change, reason, orderID, now),
	)
	if err != nil {
		return err
	}
	if _, err := outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue stock change: %w", err)
	}
	return nil
}

func authorizeProduct(actor domain.Actor, product domain.Product) error {
	if err := actor.RequireRole(domain.RoleSeller); err != nil {
		return err
	}
	if !actor.IsAdmin() && product.SellerID != actor.ID {
		return fmt.Errorf("%w: product belongs to another seller", domain.ErrForbidden)
	}
	return nil
}

func authorizeStock(actor domain.Actor, product domain.Product) error {
	if actor.HasRole(domain.RoleStockManager) && actor.ID != "" {
		return nil
	}
	return authorizeProduct(actor, product)
}
