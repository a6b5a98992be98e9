package domain

import (
	"fmt"
	"time"
)

// OrderEvent — событие, меняющее пару (status, paymentStatus).
type OrderEvent string

const (
	EventPaymentSucceeded OrderEvent = "payment_succeeded"
	EventPaymentFailed    OrderEvent = "payment_failed"
	EventShip             OrderEvent = "ship"
	EventDeliver          OrderEvent = "deliver"
	EventCancel           OrderEvent = "cancel"
	EventRefund           OrderEvent = "refund"
	// EventLateCapture — шлюз списал деньги, когда заказ уже был отменён.
	EventLateCapture OrderEvent = "late_capture"
)

// legalStates — единственные допустимые сочетания статусов заказа и оплаты.
var legalStates = map[OrderStatus]map[PaymentStatus]bool{
	OrderStatusPending: {
		PaymentStatusPending: true,
		PaymentStatusFailed:  true,
	},
	OrderStatusConfirmed: {
		PaymentStatusCompleted: true,
		PaymentStatusRefunded:  true,
	},
	OrderStatusShipped: {
		PaymentStatusCompleted: true,
		PaymentStatusRefunded:  true,
	},
	OrderStatusDelivered: {
		PaymentStatusCompleted: true,
		PaymentStatusRefunded:  true,
	},
	OrderStatusCancelled: {
		PaymentStatusPending:   true,
		PaymentStatusFailed:    true,
		PaymentStatusCompleted: true,
		PaymentStatusRefunded:  true,
	},
}

// IsLegalState проверяет пару статусов по таблице.
func IsLegalState(status OrderStatus, payment PaymentStatus) bool {
	return legalStates[status][payment]
}

type transition struct {
	from   map[OrderStatus]bool
	pay    map[PaymentStatus]bool
	reject error
	next   func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus)
}

func set[T comparable](vals ...T) map[T]bool {
	m := make(map[T]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

var transitions = map[OrderEvent]transition{
	EventPaymentSucceeded: {
		from:   set(OrderStatusPending),
		pay:    set(PaymentStatusPending, PaymentStatusFailed),
		reject: ErrInvalidOrderStatus,
		next: func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusConfirmed, PaymentStatusCompleted
		},
	},
	EventPaymentFailed: {
		from:   set(OrderStatusPending),
		pay:    set(PaymentStatusPending, PaymentStatusFailed),
		reject: ErrInvalidOrderStatus,
		next: func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusPending, PaymentStatusFailed
		},
	},
	EventShip: {
		from:   set(OrderStatusConfirmed),
		pay:    set(PaymentStatusCompleted),
		reject: ErrCannotShip,
		next: func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusShipped, PaymentStatusCompleted
		},
	},
	EventDeliver: {
		from:   set(OrderStatusConfirmed, OrderStatusShipped),
		pay:    set(PaymentStatusCompleted),
		reject: ErrCannotDeliver,
		next: func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusDelivered, PaymentStatusCompleted
		},
	},
	EventCancel: {
		from:   set(OrderStatusPending, OrderStatusConfirmed),
		pay:    set(PaymentStatusPending, PaymentStatusFailed, PaymentStatusCompleted, PaymentStatusRefunded),
		reject: ErrCannotCancel,
		next: func(_ OrderStatus, p PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusCancelled, p
		},
	},
	EventLateCapture: {
		from:   set(OrderStatusCancelled),
		pay:    set(PaymentStatusPending, PaymentStatusFailed),
		reject: ErrInvalidOrderStatus,
		next: func(OrderStatus, PaymentStatus) (OrderStatus, PaymentStatus) {
			return OrderStatusCancelled, PaymentStatusCompleted
		},
	},
	EventRefund: {
		from:   set(OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled),
		pay:    set(PaymentStatusCompleted),
		reject: ErrNotRefundable,
		next: func(s OrderStatus, _ PaymentStatus) (OrderStatus, PaymentStatus) {
			return s, PaymentStatusRefunded
		},
	},
}

// Next вычисляет новую пару статусов для события без изменения заказа.
func Next(status OrderStatus, payment PaymentStatus, event OrderEvent) (OrderStatus, PaymentStatus, error) {
	tr, ok := transitions[event]
	if !ok {
		return status, payment, fmt.Errorf("%w: unknown event %q", ErrIllegalStateTransition, event)
	}
	if !IsLegalState(status, payment) {
		return status, payment, fmt.Errorf("%w: current state %s/%s", ErrIllegalStateTransition, status, payment)
	}
	if (event == EventPaymentSucceeded || event == EventLateCapture) && payment == PaymentStatusCompleted {
		return status, payment, ErrAlreadyPaid
	}
	if event == EventRefund && payment == PaymentStatusRefunded {
		return status, payment, ErrAlreadyRefunded
	}
	if !tr.from[status] || !tr.pay[payment] {
		return status, payment, fmt.Errorf("%w (state %s/%s)", tr.reject, status, payment)
	}
	ns, np := tr.next(status, payment)
	return ns, np, nil
}

// Apply применяет событие к заказу и обновляет UpdatedAt.
func (o *Order) Apply(event OrderEvent, now time.Time) error {
	status, payment, err := Next(o.Status, o.PaymentStatus, event)
	if err != nil {
		return err
	}
	o.Status = status
	o.PaymentStatus = payment
	o.UpdatedAt = now
	return nil
}

// CanDelete сообщает, допустимо ли удаление заказа в текущем статусе.
func (o *Order) CanDelete() bool {
	switch o.Status {
	case OrderStatusConfirmed, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// NeedsStockRestore сообщает, нужно ли вернуть остатки при удалении или отмене.
// Доставленный заказ остатки израсходовал, отменённый уже вернул.
func (o *Order) NeedsStockRestore() bool {
	return !o.StockReleased && o.Status != OrderStatusDelivered
}
