package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// paymentRepository — журнал попыток оплаты. Записи не удаляются вместе с заказом.
type paymentRepository struct {
	scope
}

func (r *paymentRepository) Create(_ context.Context, record domain.PaymentRecord) error {
	defer r.lock()()

	if _, exists := r.s.payments[record.ID]; exists {
		return fmt.Errorf("payment %s: %w", record.ID, domain.ErrAlreadyExists)
	}
	if r.transactionTaken(record.ID, record.TransactionID) {
		return fmt.Errorf("transaction %s: %w", record.TransactionID, domain.ErrAlreadyExists)
	}
	remember(r.scope, r.s.payments, record.ID)
	r.s.payments[record.ID] = record.Clone()
	return nil
}

func (r *paymentRepository) Get(_ context.Context, id string) (domain.PaymentRecord, error) {
	defer r.rlock()()

	record, ok := r.s.payments[id]
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return record.Clone(), nil
}

func (r *paymentRepository) GetByTransactionID(_ context.Context, transactionID string) (domain.PaymentRecord, error) {
	defer r.rlock()()

	for _, record := range r.s.payments {
		if record.TransactionID == transactionID {
			return record.Clone(), nil
		}
	}
	return domain.PaymentRecord{}, domain.ErrPaymentNotFound
}

func (r *paymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentRecord, error) {
	defer r.rlock()()

	result := make([]domain.PaymentRecord, 0)
	for _, record := range r.s.payments {
		if record.OrderID == orderID {
			result = append(result, record.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *paymentRepository) Save(_ context.Context, record domain.PaymentRecord) error {
	defer r.lock()()

	if _, ok := r.s.payments[record.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	if r.transactionTaken(record.ID, record.TransactionID) {
		return fmt.Errorf("transaction %s: %w", record.TransactionID, domain.ErrAlreadyExists)
	}
	remember(r.scope, r.s.payments, record.ID)
	r.s.payments[record.ID] = record.Clone()
	return nil
}

// transactionTaken проверяет глобальную уникальность transaction id.
func (r *paymentRepository) transactionTaken(id, transactionID string) bool {
	for _, other := range r.s.payments {
		if other.ID != id && other.TransactionID == transactionID {
			return true
		}
	}
	return false
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
