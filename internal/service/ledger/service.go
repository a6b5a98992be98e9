// Package ledger ведёт журнал попыток оплаты и возвраты по нему.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const refundPrefix = "RF_"

// Service читает журнал платежей и проводит возвраты.
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

// WithMetrics подключает метрики возвратов.
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

// NewService создаёт сервис журнала.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New().WithField("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает запись платежа.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (domain.PaymentRecord, error) {
	record, err := s.store.Repos().Payments.Get(ctx, id)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if err := actor.RequireOwner(record.BuyerID); err != nil {
		return domain.PaymentRecord{}, err
	}
	return record, nil
}

// GetByTransactionID ищет запись по идентификатору транзакции шлюза.
func (s *Service) GetByTransactionID(ctx context.Context, actor domain.Actor, transactionID string) (domain.PaymentRecord, error) {
	record, err := s.store.Repos().Payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if err := actor.RequireOwner(record.BuyerID); err != nil {
		return domain.PaymentRecord{}, err
	}
	return record, nil
}

// ListByOrder возвращает все попытки оплаты заказа в порядке создания.
// Записи доступны и после удаления заказа.
func (s *Service) ListByOrder(ctx context.Context, actor domain.Actor, orderID string) ([]domain.PaymentRecord, error) {
	records, err := s.store.Repos().Payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return records, nil
	}
	for _, record := range records {
		if err := actor.RequireOwner(record.BuyerID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Refund возвращает завершённый платёж. Запись, статус оплаты заказа и событие
// PaymentRefunded фиксируются одной транзакцией. Если заказ уже удалён,
// возвращается только запись. Возврат проводит администратор.
func (s *Service) Refund(ctx context.Context, actor domain.Actor, paymentID, reason string) (domain.PaymentRecord, error) {
	if err := actor.RequireRole(domain.RoleAdmin); err != nil {
		return domain.PaymentRecord{}, err
	}
	reason = strings.TrimSpace(reason)

	var refunded domain.PaymentRecord
	err := s.store.RunInTx(ctx, func(repos domain.Repositories) error {
		record, err := repos.Payments.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if record.Status == domain.PaymentStatusRefunded || record.RefundDate != nil {
			return fmt.Errorf("payment %s: %w", record.ID, domain.ErrAlreadyRefunded)
		}
		if !record.CanBeRefunded() {
			return fmt.Errorf("payment %s in status %s: %w", record.ID, record.Status, domain.ErrNotRefundable)
		}

		now := s.now()
		record.Status = domain.PaymentStatusRefunded
		record.RefundID = refundPrefix + record.TransactionID
		record.RefundDate = &now
		record.RefundReason = reason
		record.UpdatedAt = now
		if err := repos.Payments.Save(ctx, record); err != nil {
			return err
		}

		if err := s.refundOrder(ctx, repos, actor, record, now); err != nil {
			return err
		}

		msg, err := domain.NewOutboxMessage(domain.AggregatePayment, record.ID, domain.EventTypePaymentRefunded,
			domain.PaymentEventPayload{
				PaymentID:     record.ID,
				OrderID:       record.OrderID,
				TransactionID: record.TransactionID,
				Method:        record.Method,
				Status:        record.Status,
				AmountMinor:   record.AmountMinor,
				Currency:      record.Currency,
				RefundID:      record.RefundID,
				Reason:        reason,
				OccurredAt:    now,
			})
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return err
		}

		refunded = record
		return nil
	})

	logger := s.logger.WithFields(log.Fields{"payment_id": paymentID, "actor_id": actor.ID})
	if err != nil {
		s.metrics.RecordRefund(refundResult(err))
		logger.WithError(err).WithField("code", domain.Code(err)).Warn("refund failed")
		return domain.PaymentRecord{}, err
	}
	s.metrics.RecordRefund(metrics.ResultSuccess)
	logger.WithFields(log.Fields{
		"order_id":  refunded.OrderID,
		"refund_id": refunded.RefundID,
	}).Info("payment refunded")
	return refunded, nil
}

// refundOrder переводит оплату заказа в REFUNDED, если заказ ещё существует
// и записан на этот платёж.
func (s *Service) refundOrder(ctx context.Context, repos domain.Repositories, actor domain.Actor, record domain.PaymentRecord, now time.Time) error {
	order, err := repos.Orders.Get(ctx, record.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		return nil
	}

	if err := order.Apply(domain.EventRefund, now); err != nil {
		return err
	}
	if err := repos.Orders.Save(ctx, order); err != nil {
		return err
	}
	s.metrics.RecordTransition(string(domain.EventRefund))

	return repos.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventTypePaymentRefunded,
		Reason:   record.RefundReason,
		ActorID:  actor.ID,
		Occurred: now,
	})
}

func refundResult(err error) string {
	if errors.Is(err, domain.ErrIllegalStateTransition) || errors.Is(err, domain.ErrForbidden) || domain.IsNotFound(err) {
		return metrics.ResultRejected
	}
	return metrics.ResultFailure
}
