package domain

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss возвращается кэшем, если записи нет.
var ErrCacheMiss = errors.New("cache miss")

// StockNotifier доставляет оповещения об остатках (email, чат, шина).
// Вызывающая сторона логирует ошибки и не повторяет отправку.
type StockNotifier interface {
	NotifyLowStock(ctx context.Context, product Product, previousStock, newStock int32) error
	NotifyOutOfStock(ctx context.Context, product Product) error
}

// CartCache — кэш корзин покупателей поверх основного хранилища.
type CartCache interface {
	Get(ctx context.Context, buyerID string) (Cart, error)
	Set(ctx context.Context, cart Cart) error
	Delete(ctx context.Context, buyerID string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
