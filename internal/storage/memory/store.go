package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Store — in-memory хранилище всех агрегатов ядра для локальной разработки и тестов.
//
// Все карты защищены одним RWMutex. RunInTx держит write-lock на всё время
// транзакции и ведёт журнал отката, поэтому транзакции сериализуются, а при
// ошибке состояние возвращается к исходному.
type Store struct {
	mu sync.RWMutex

	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	payments map[string]domain.PaymentRecord
	outbox   map[string]outboxRecord
	timeline map[string][]domain.TimelineEvent

	outboxSeq int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.PaymentRecord),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

// Repos возвращает репозитории, каждый вызов которых берёт собственную блокировку.
func (s *Store) Repos() domain.Repositories {
	return s.repos(nil)
}

// RunInTx выполняет fn атомарно. Репозитории, переданные в fn, действительны
// только внутри fn; вложенный RunInTx из fn приведёт к взаимоблокировке.
func (s *Store) RunInTx(ctx context.Context, fn func(repos domain.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
		if err != nil {
			j.rollback()
		}
	}()

	return fn(s.repos(j))
}

func (s *Store) repos(j *journal) domain.Repositories {
	sc := scope{s: s, j: j}
	return domain.Repositories{
		Products: &productRepository{scope: sc},
		Carts:    &cartRepository{scope: sc},
		Orders:   &orderRepository{scope: sc},
		Payments: &paymentRepository{scope: sc},
		Outbox:   &outboxRepository{scope: sc},
		Timeline: &timelineRepository{scope: sc},
	}
}

// journal копит функции отката в порядке записи.
type journal struct {
	undo []func()
}

func (j *journal) push(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// scope определяет, берёт ли репозиторий блокировку сам или работает внутри транзакции.
type scope struct {
	s *Store
	j *journal
}

func noop() {}

func (sc scope) rlock() func() {
	if sc.j != nil {
		return noop
	}
	sc.s.mu.RLock()
	return sc.s.mu.RUnlock
}

func (sc scope) lock() func() {
	if sc.j != nil {
		return noop
	}
	sc.s.mu.Lock()
	return sc.s.mu.Unlock
}

// remember запоминает текущее значение ключа, чтобы вернуть его при откате.
func remember[K comparable, V any](sc scope, m map[K]V, key K) {
	if sc.j == nil {
		return
	}
	prev, ok := m[key]
	sc.j.push(func() {
		if ok {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

var (
	_ domain.Store      = (*Store)(nil)
	_ domain.Transactor = (*Store)(nil)
)
