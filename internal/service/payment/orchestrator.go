package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const (
	defaultGatewayTimeout = 5 * time.Second
	// defaultInFlightTTL — сколько PENDING-запись считается идущей попыткой.
	defaultInFlightTTL = 2 * time.Minute
	// settleTimeout ограничивает фиксацию результата, которая не зависит от отмены запроса.
	settleTimeout       = 5 * time.Second
	provisionalTxPrefix = "TMP_"
)

// Orchestrator проводит оплату заказа: проверки и PENDING-запись в первой
// транзакции, вызов стратегии без открытой транзакции, фиксация результата во второй.
// Оркестратор единственный, кто пишет платёжные поля заказа.
type Orchestrator struct {
	store       domain.Store
	registry    *Registry
	logger      *log.Entry
	metrics     *metrics.Metrics
	now         func() time.Time
	timeout     time.Duration
	inFlightTTL time.Duration
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики платежей.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithGatewayTimeout ограничивает время вызова стратегии.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithInFlightTTL задаёт, как долго незавершённая попытка блокирует новые.
func WithInFlightTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.inFlightTTL = d
		}
	}
}

// NewOrchestrator создаёт оркестратор платежей.
func NewOrchestrator(store domain.Store, registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		registry:    registry,
		logger:      log.New().WithField("component", "payment"),
		now:         func() time.Time { return time.Now().UTC() },
		timeout:     defaultGatewayTimeout,
		inFlightTTL: defaultInFlightTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SupportedMethods — способы оплаты, доступные покупателю.
func (o *Orchestrator) SupportedMethods() []MethodInfo {
	return o.registry.SupportedMethods()
}

// ProcessOrderPayment проводит одну попытку оплаты заказа.
func (o *Orchestrator) ProcessOrderPayment(ctx context.Context, actor domain.Actor, orderID string, details Details) Result {
	logger := o.logger.WithFields(log.Fields{
		"order_id": orderID,
		"method":   string(details.Method),
	})

	order, record, strategy, res := o.begin(ctx, actor, orderID, details)
	if res != nil {
		o.metrics.RecordPayment(string(details.Method), res.Code)
		logger.WithField("code", res.Code).Info("payment rejected")
		return *res
	}

	o.metrics.PaymentStarted()
	defer o.metrics.PaymentFinished()

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	started := time.Now()
	result := strategy.Process(callCtx, order, actor, details)
	if !result.Success && callCtx.Err() != nil && ctx.Err() == nil {
		result = Failed(CodeGatewayTimeout, "payment gateway did not answer in time")
	}
	cancel()
	o.metrics.ObserveGateway(string(details.Method), time.Since(started))

	// Результат шлюза фиксируется и после отмены запроса, иначе PENDING-запись
	// блокировала бы повторную оплату до истечения inFlightTTL.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	final := o.finish(settleCtx, actor, record, result)
	cancelSettle()
	final.PaymentID = record.ID
	o.metrics.RecordPayment(string(details.Method), final.Code)

	entry := logger.WithFields(log.Fields{
		"payment_id":     record.ID,
		"transaction_id": final.TransactionID,
		"code":           final.Code,
	})
	if final.Success {
		entry.Info("payment completed")
	} else {
		entry.Warn("payment not completed")
	}
	return final
}

// begin выполняет проверки и создаёт PENDING-запись. Ненулевой *Result означает отказ.
func (o *Orchestrator) begin(ctx context.Context, actor domain.Actor, orderID string, details Details) (domain.Order, domain.PaymentRecord, Strategy, *Result) {
	var (
		order    domain.Order
		record   domain.PaymentRecord
		strategy Strategy
		rejected *Result
	)

	reject := func(code, message string) error {
		r := Failed(code, message)
		rejected = &r
		return nil
	}

	err := o.store.RunInTx(ctx, func(repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.Get(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return reject(CodeOrderNotFound, "order not found")
		}
		if err != nil {
			return err
		}
		if err := actor.RequireOwner(order.BuyerID); err != nil {
			return reject(CodeForbidden, err.Error())
		}

		// ALREADY_PAID проверяется раньше статуса: оплаченный заказ уже CONFIRMED.
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			return reject(CodeAlreadyPaid, "order is already paid")
		}
		if order.Status != domain.OrderStatusPending {
			return reject(CodeInvalidOrderStatus, "order is not awaiting payment")
		}

		var ok bool
		if strategy, ok = o.registry.Strategy(details.Method); !ok {
			return reject(CodeUnsupportedMethod, "payment method is not supported: "+string(details.Method))
		}

		now := o.now()
		attempts, err := repos.Payments.ListByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, attempt := range attempts {
			if attempt.Status != domain.PaymentStatusPending {
				continue
			}
			if now.Sub(attempt.CreatedAt) < o.inFlightTTL {
				return reject(CodePaymentInProgress, "another payment attempt is in progress")
			}
			// зависшая попытка: ответ шлюза так и не был зафиксирован
			attempt.Status = domain.PaymentStatusFailed
			attempt.FailureCode = CodeGatewayTimeout
			attempt.Message = "payment attempt abandoned"
			attempt.UpdatedAt = now
			if err := repos.Payments.Save(ctx, attempt); err != nil {
				return err
			}
		}

		record = domain.PaymentRecord{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			TransactionID: provisionalTxPrefix + uuid.NewString(),
			Method:        details.Method,
			AmountMinor:   order.AmountMinor,
			Currency:      order.Currency,
			Status:        domain.PaymentStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := repos.Payments.Create(ctx, record); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("create payment record failed")
			r := Failed(CodePaymentRecordCreationFailed, "payment record could not be created")
			rejected = &r
			return err
		}
		return nil
	})
	if err != nil && rejected == nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("payment preparation failed")
		r := Failed(CodeSystemError, "payment processing error")
		rejected = &r
	}
	return order, record, strategy, rejected
}

// finish фиксирует результат стратегии в записи журнала и заказе.
func (o *Orchestrator) finish(ctx context.Context, actor domain.Actor, pending domain.PaymentRecord, result Result) Result {
	final := result
	err := o.store.RunInTx(ctx, func(repos domain.Repositories) error {
		now := o.now()
		record, err := repos.Payments.Get(ctx, pending.ID)
		if err != nil {
			return err
		}
		record.UpdatedAt = now
		record.Message = result.Message

		order, err := repos.Orders.Get(ctx, record.OrderID)
		orderGone := errors.Is(err, domain.ErrOrderNotFound)
		if err != nil && !orderGone {
			return err
		}

		if !result.Success {
			record.Status = domain.PaymentStatusFailed
			record.FailureCode = result.Code
			if err := repos.Payments.Save(ctx, record); err != nil {
				return err
			}
			if orderGone || order.Status != domain.OrderStatusPending {
				return nil
			}
			return o.transition(ctx, repos, actor, &order, domain.EventPaymentFailed, domain.EventTypeOrderPaymentFailed, result.Code, now)
		}

		record.Status = domain.PaymentStatusCompleted
		record.TransactionID = result.TransactionID
		record.PaymentDate = &now
		if err := repos.Payments.Save(ctx, record); err != nil {
			return err
		}
		if orderGone {
			final = Failed(CodeOrderUpdateFailed, "order was deleted while the payment was processed")
			final.TransactionID = result.TransactionID
			return o.enqueuePayment(ctx, repos, record, domain.EventTypePaymentLateCaptured, "order deleted", now)
		}

		order.TransactionID = record.TransactionID
		order.PaymentMethod = record.Method
		order.PaymentDate = &now
		if order.Status == domain.OrderStatusCancelled {
			final = Failed(CodeOrderCancelled, "order was cancelled while the payment was processed; refund required")
			final.TransactionID = result.TransactionID
			return o.transition(ctx, repos, actor, &order, domain.EventLateCapture, domain.EventTypePaymentLateCaptured, "order cancelled", now)
		}

		return o.transition(ctx, repos, actor, &order, domain.EventPaymentSucceeded, domain.EventTypeOrderPaid, "", now)
	})
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":   pending.OrderID,
			"payment_id": pending.ID,
		}).Error("payment result could not be stored")
		failed := Failed(CodeOrderUpdateFailed, "payment result could not be stored")
		if result.Success {
			failed.TransactionID = result.TransactionID
		}
		return failed
	}
	return final
}

func (o *Orchestrator) transition(ctx context.Context, repos domain.Repositories, actor domain.Actor,
	order *domain.Order, event domain.OrderEvent, eventType, reason string, now time.Time) error {
	if err := order.Apply(event, now); err != nil {
		return err
	}
	if err := repos.Orders.Save(ctx, *order); err != nil {
		return err
	}
	o.metrics.RecordTransition(string(event))

	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, eventType,
		domain.NewOrderEventPayload(*order, reason, now))
	if err != nil {
		return err
	}
	if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
		return err
	}
	return repos.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		ActorID:  actor.ID,
		Occurred: now,
	})
}

func (o *Orchestrator) enqueuePayment(ctx context.Context, repos domain.Repositories, record domain.PaymentRecord,
	eventType, reason string, now time.Time) error {
	msg, err := domain.NewOutboxMessage(domain.AggregatePayment, record.ID, eventType, domain.PaymentEventPayload{
		PaymentID:     record.ID,
		OrderID:       record.OrderID,
		TransactionID: record.TransactionID,
		Method:        record.Method,
		Status:        record.Status,
		AmountMinor:   record.AmountMinor,
		Currency:      record.Currency,
		Reason:        reason,
		OccurredAt:    now,
	})
	if err != nil {
		return err
	}
	_, err = repos.Outbox.Enqueue(ctx, msg)
	return err
}
