// Package cart реализует корзину покупателя: добавление, изменение и удаление
// строк с проверкой живого остатка.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// ErrItemNotInCart — изменение количества товара, которого нет в корзине.
var ErrItemNotInCart = fmt.Errorf("cart item %w", domain.ErrNotFound)

// ProblemCartKey — ключ проблемы пустой корзины в результате Validate.
const ProblemCartKey = "cart"

// Summary — сводка по корзине.
type Summary struct {
	BuyerID    string
	Lines      int
	ItemCount  int32
	TotalMinor int64
}

// Line — строка для слияния гостевой корзины.
type Line struct {
	ProductID string
	Qty       int32
}

// Service управляет корзинами. Каждая мутация выполняется в транзакции
// хранилища, после фиксации запись кэша инвалидируется.
type Service struct {
	store   domain.Store
	cache   domain.CartCache
	logger  *log.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш корзин.
func WithCache(cache domain.CartCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики кэша.
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

// NewService создаёт сервис корзин.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New().WithField("component", "cart"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate возвращает корзину покупателя, создавая пустую при первом обращении.
func (s *Service) GetOrCreate(ctx context.Context, actor domain.Actor, buyerID string) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}

	if cached, ok := s.cached(ctx, buyerID); ok {
		return cached, nil
	}

	carts := s.store.Repos().Carts
	cart, err := carts.GetByBuyer(ctx, buyerID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return s.mutate(ctx, buyerID, func(domain.Repositories, *domain.Cart) error { return nil })
	}
	if err != nil {
		return domain.Cart{}, err
	}

	if s.fill(ctx, cart) {
		// Мутация, зафиксированная между чтением и записью в кэш, уже сделала
		// Invalidate; перечитываем корзину и сбрасываем устаревшую запись.
		if current, err := carts.GetByBuyer(ctx, buyerID); err != nil || !current.UpdatedAt.Equal(cart.UpdatedAt) {
			s.Invalidate(ctx, buyerID)
		}
	}
	return cart, nil
}

// AddItem добавляет qty единиц товара. Суммарное количество в корзине не может
// превышать живой остаток.
func (s *Service) AddItem(ctx context.Context, actor domain.Actor, buyerID, productID string, qty int32) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}
	if qty <= 0 {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}

	return s.mutate(ctx, buyerID, func(repos domain.Repositories, cart *domain.Cart) error {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		existing, _ := cart.Item(productID)
		if err := checkStock(product, existing.Qty, qty); err != nil {
			return err
		}
		cart.Add(productID, qty, product.PriceMinor, s.now())
		return nil
	})
}

// UpdateQuantity задаёт количество строки; qty <= 0 равносильно RemoveItem.
func (s *Service) UpdateQuantity(ctx context.Context, actor domain.Actor, buyerID, productID string, qty int32) (domain.Cart, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, actor, buyerID, productID)
	}
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, buyerID, func(repos domain.Repositories, cart *domain.Cart) error {
		if _, ok := cart.Item(productID); !ok {
			return fmt.Errorf("%w: %s", ErrItemNotInCart, productID)
		}
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := checkStock(product, 0, qty); err != nil {
			return err
		}
		cart.SetQty(productID, qty, s.now())
		return nil
	})
}

// RemoveItem удаляет строку. Отсутствующая строка не ошибка.
func (s *Service) RemoveItem(ctx context.Context, actor domain.Actor, buyerID, productID string) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, buyerID, func(_ domain.Repositories, cart *domain.Cart) error {
		cart.Remove(productID, s.now())
		return nil
	})
}

// Clear очищает корзину. Повторный вызов ничего не меняет.
func (s *Service) Clear(ctx context.Context, actor domain.Actor, buyerID string) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, buyerID, func(_ domain.Repositories, cart *domain.Cart) error {
		cart.Clear(s.now())
		return nil
	})
}

// Summary возвращает количество строк, единиц и сумму корзины.
func (s *Service) Summary(ctx context.Context, actor domain.Actor, buyerID string) (Summary, error) {
	cart, err := s.GetOrCreate(ctx, actor, buyerID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		BuyerID:    buyerID,
		Lines:      len(cart.Items),
		ItemCount:  cart.TotalQty(),
		TotalMinor: cart.TotalMinor,
	}, nil
}

// Validate проверяет корзину против живых остатков, ничего не меняя.
// Пустой результат означает, что корзину можно оформлять.
func (s *Service) Validate(ctx context.Context, actor domain.Actor, buyerID string) (map[string]error, error) {
	cart, err := s.GetOrCreate(ctx, actor, buyerID)
	if err != nil {
		return nil, err
	}
	return Problems(ctx, s.store.Repos().Products, cart)
}

// RefreshPrices переснимает цены строк по текущим ценам товаров.
func (s *Service) RefreshPrices(ctx context.Context, actor domain.Actor, buyerID string) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, buyerID, func(repos domain.Repositories, cart *domain.Cart) error {
		now := s.now()
		for _, item := range append([]domain.CartItem(nil), cart.Items...) {
			product, err := repos.Products.Get(ctx, item.ProductID)
			if errors.Is(err, domain.ErrProductNotFound) {
				cart.Remove(item.ProductID, now)
				continue
			}
			if err != nil {
				return err
			}
			if product.PriceMinor != item.UnitPriceMinor {
				cart.SetPrice(item.ProductID, product.PriceMinor, now)
			}
		}
		return nil
	})
}

// Merge переносит строки гостевой корзины в корзину покупателя. Слияние
// атомарно: если хотя бы одна строка не проходит проверку, корзина не меняется.
func (s *Service) Merge(ctx context.Context, actor domain.Actor, buyerID string, lines []Line) (domain.Cart, error) {
	if err := authorize(actor, buyerID); err != nil {
		return domain.Cart{}, err
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return domain.Cart{}, fmt.Errorf("%w: product %s", domain.ErrInvalidQuantity, line.ProductID)
		}
	}

	return s.mutate(ctx, buyerID, func(repos domain.Repositories, cart *domain.Cart) error {
		now := s.now()
		for _, line := range lines {
			product, err := repos.Products.Get(ctx, line.ProductID)
			if err != nil {
				return err
			}
			existing, _ := cart.Item(line.ProductID)
			if err := checkStock(product, existing.Qty, line.Qty); err != nil {
				return err
			}
			cart.Add(line.ProductID, line.Qty, product.PriceMinor, now)
		}
		return nil
	})
}

// Invalidate сбрасывает запись кэша (например, после оформления заказа).
func (s *Service) Invalidate(ctx context.Context, buyerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, buyerID); err != nil {
		s.logger.WithError(err).WithField("buyer_id", buyerID).Warn("cart cache invalidation failed")
	}
}

// Problems возвращает проблемы корзины по товарам: отсутствующий товар или
// нехватку остатка. Пустая корзина даёт проблему под ключом ProblemCartKey.
// Товары читаются в порядке ProductID.
func Problems(ctx context.Context, products domain.ProductRepository, cart domain.Cart) (map[string]error, error) {
	problems := make(map[string]error)
	if cart.IsEmpty() {
		problems[ProblemCartKey] = domain.ErrCartEmpty
		return problems, nil
	}

	for _, item := range cart.ItemsByProduct() {
		product, err := products.Get(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			problems[item.ProductID] = domain.ErrProductNotFound
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := checkStock(product, 0, item.Qty); err != nil {
			problems[item.ProductID] = err
		}
	}
	return problems, nil
}

// mutate загружает (или создаёт) корзину под блокировкой, применяет fn и сохраняет.
func (s *Service) mutate(ctx context.Context, buyerID string, fn func(domain.Repositories, *domain.Cart) error) (domain.Cart, error) {
	var result domain.Cart
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		cart, err := repos.Carts.GetByBuyer(ctx, buyerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			cart = domain.NewCart(uuid.NewString(), buyerID, s.now())
		} else if err != nil {
			return err
		}

		if err := fn(repos, &cart); err != nil {
			return err
		}
		if err := repos.Carts.Save(ctx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.Invalidate(ctx, buyerID)
	return result, nil
}

func (s *Service) cached(ctx context.Context, buyerID string) (domain.Cart, bool) {
	if s.cache == nil {
		return domain.Cart{}, false
	}
	cart, err := s.cache.Get(ctx, buyerID)
	switch {
	case err == nil:
		s.metrics.RecordCartCache("hit")
		return cart, true
	case errors.Is(err, domain.ErrCacheMiss):
		s.metrics.RecordCartCache("miss")
	default:
		s.metrics.RecordCartCache("error")
		s.logger.WithError(err).WithField("buyer_id", buyerID).Warn("cart cache read failed")
	}
	return domain.Cart{}, false
}

// fill кладёт корзину в кэш и сообщает, была ли запись.
func (s *Service) fill(ctx context.Context, cart domain.Cart) bool {
	if s.cache == nil {
		return false
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger.WithError(err).WithField("buyer_id", cart.BuyerID).Warn("cart cache write failed")
		return false
	}
	return true
}

// checkStock проверяет, что inCart+added единиц помещаются в остаток.
// Сумма считается в int64, чтобы большое added не переполнило int32.
func checkStock(product domain.Product, inCart, added int32) error {
	requested := int64(inCart) + int64(added)
	if requested > int64(product.StockQuantity) {
		return fmt.Errorf("%w: product %s has %d, requested %d",
			domain.ErrInsufficientStock, product.ID, product.StockQuantity, requested)
	}
	return nil
}

func authorize(actor domain.Actor, buyerID string) error {
	if buyerID == "" {
		return domain.ErrBuyerRequired
	}
	return actor.RequireOwner(buyerID)
}
