// Package redis содержит кэш корзин поверх Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultBaseTTL = 15 * time.Minute
	maxJitter      = 5 * time.Minute
)

// CartCache кэширует корзины под ключом cart:<buyerID>. TTL размазывается
// случайной добавкой, чтобы записи не истекали одновременно.
type CartCache struct {
	client  goredis.UniversalClient
	baseTTL time.Duration
}

// Option настраивает CartCache.
type Option func(*CartCache)

// WithTTL задаёт базовый TTL записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *CartCache) {
		if ttl > 0 {
			c.baseTTL = ttl
		}
	}
}

// NewCartCache создаёт кэш поверх готового клиента.
func NewCartCache(client goredis.UniversalClient, opts ...Option) *CartCache {
	c := &CartCache{client: client, baseTTL: defaultBaseTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cartEntry — JSON-представление корзины в кэше.
type cartEntry struct {
	ID         string      `json:"id"`
	BuyerID    string      `json:"buyer_id"`
	Items      []itemEntry `json:"items"`
	TotalMinor int64       `json:"total_minor"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type itemEntry struct {
	ProductID      string    `json:"product_id"`
	Qty            int32     `json:"qty"`
	UnitPriceMinor int64     `json:"unit_price_minor"`
	LineTotalMinor int64     `json:"line_total_minor"`
	AddedAt        time.Time `json:"added_at"`
}

func (c *CartCache) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(buyerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Cart{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get cart: %w", err)
	}

	var entry cartEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cart: %w", err)
	}

	cart := domain.Cart{
		ID:         entry.ID,
		BuyerID:    entry.BuyerID,
		Items:      make([]domain.CartItem, 0, len(entry.Items)),
		TotalMinor: entry.TotalMinor,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
	}
	for _, it := range entry.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:      it.ProductID,
			Qty:            it.Qty,
			UnitPriceMinor: it.UnitPriceMinor,
			LineTotalMinor: it.LineTotalMinor,
			AddedAt:        it.AddedAt,
		})
	}
	return cart, nil
}

func (c *CartCache) Set(ctx context.Context, cart domain.Cart) error {
	entry := cartEntry{
		ID:         cart.ID,
		BuyerID:    cart.BuyerID,
		Items:      make([]itemEntry, 0, len(cart.Items)),
		TotalMinor: cart.TotalMinor,
		CreatedAt:  cart.CreatedAt,
		UpdatedAt:  cart.UpdatedAt,
	}
	for _, it := range cart.Items {
		entry.Items = append(entry.Items, itemEntry{
			ProductID:      it.ProductID,
			Qty:            it.Qty,
			UnitPriceMinor: it.UnitPriceMinor,
			LineTotalMinor: it.LineTotalMinor,
			AddedAt:        it.AddedAt,
		})
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	ttl := c.baseTTL + time.Duration(rand.Int64N(int64(maxJitter)))
	if err := c.client.Set(ctx, cacheKey(cart.BuyerID), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (c *CartCache) Delete(ctx context.Context, buyerID string) error {
	if err := c.client.Del(ctx, cacheKey(buyerID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis для readiness-проверки.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(buyerID string) string {
	return "cart:" + buyerID
}

var _ domain.CartCache = (*CartCache)(nil)
