package domain

import (
	"context"
	"time"
)

// StockChange описывает результат атомарного изменения остатка.
type StockChange struct {
	ProductID     string
	SellerID      string
	Name          string
	Previous      int32
	Current       int32
	MinStockLevel int32
}

// ProductRepository описывает хранилище товаров и остатков.
type ProductRepository interface {
	// Create сохраняет новый товар; ErrAlreadyExists при повторе ID.
	Create(ctx context.Context, product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// Save обновляет карточку товара с учётом optimistic locking.
	Save(ctx context.Context, product Product) error
	// AdjustStock атомарно меняет остаток на delta. Если результат оказался бы
	// отрицательным, ничего не меняет и возвращает ErrInsufficientStock.
	AdjustStock(ctx context.Context, id string, delta int32) (StockChange, error)
	// SetStock выставляет абсолютное значение остатка (ручное пополнение).
	SetStock(ctx context.Context, id string, qty int32) (StockChange, error)
	// ListBySeller возвращает товары продавца.
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]Product, error)
	// ListLowStock возвращает товары с остатком не выше порога.
	ListLowStock(ctx context.Context, limit int) ([]Product, error)
}

// CartRepository хранит корзины покупателей (одна корзина на покупателя).
type CartRepository interface {
	// GetByBuyer возвращает корзину или ErrCartNotFound.
	GetByBuyer(ctx context.Context, buyerID string) (Cart, error)
	// Save создаёт или полностью перезаписывает корзину вместе со строками.
	Save(ctx context.Context, cart Cart) error
	// Delete удаляет корзину; отсутствие корзины не ошибка.
	Delete(ctx context.Context, buyerID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// Delete удаляет заказ вместе с позициями.
	Delete(ctx context.Context, id string) error
	// Statistics считает заказы по статусам.
	Statistics(ctx context.Context) (OrderStatistics, error)
}

// PaymentRepository — журнал попыток оплаты.
type PaymentRepository interface {
	Create(ctx context.Context, record PaymentRecord) error
	Get(ctx context.Context, id string) (PaymentRecord, error)
	GetByTransactionID(ctx context.Context, transactionID string) (PaymentRecord, error)
	// ListByOrder возвращает попытки в порядке создания.
	ListByOrder(ctx context.Context, orderID string) ([]PaymentRecord, error)
	Save(ctx context.Context, record PaymentRecord) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories — набор репозиториев, привязанных к одному контексту выполнения
// (обычному подключению или открытой транзакции).
type Repositories struct {
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Payments PaymentRepository
	Outbox   OutboxRepository
	Timeline TimelineRepository
}

// Transactor открывает атомарную область записи. Все изменения, сделанные
// через переданные репозитории, фиксируются вместе или не фиксируются вовсе.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(repos Repositories) error) error
}

// Store — хранилище, которым пользуются сервисы ядра.
type Store interface {
	Transactor
	// Repos возвращает репозитории вне транзакции (для чтения).
	Repos() Repositories
}
