package domain

import "time"

// DefaultCurrency используется, если валюта заказа не задана.
const DefaultCurrency = "RUB"

// OrderStatus описывает стадию исполнения заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан при оформлении и ждёт оплаты.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оплата подтверждена, заказ готов к отгрузке.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, остатки возвращены.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem — неизменяемый снимок позиции на момент оформления.
type OrderItem struct {
	ID        string
	ProductID string
	// SellerID копируется из товара, чтобы продавец видел свои заказы.
	SellerID       string
	Qty            int32
	UnitPriceMinor int64
	LineTotalMinor int64
	CreatedAt      time.Time
}

// Order агрегирует состояние заказа и его позиции.
// Status и PaymentStatus меняются только через Apply (см. state.go).
type Order struct {
	ID              string
	BuyerID         string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Currency        string
	AmountMinor     int64
	ShippingAddress string
	Items           []OrderItem
	TransactionID   string
	PaymentMethod   PaymentMethod
	PaymentDate     *time.Time
	DeliveryDate    *time.Time
	// StockReleased выставляется после компенсационного возврата остатков.
	StockReleased bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderDate — момент оформления заказа.
func (o *Order) OrderDate() time.Time {
	return o.CreatedAt
}

// HasSeller сообщает, есть ли в заказе позиции продавца.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	if o.PaymentDate != nil {
		t := *o.PaymentDate
		out.PaymentDate = &t
	}
	if o.DeliveryDate != nil {
		t := *o.DeliveryDate
		out.DeliveryDate = &t
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !IsLegalState(o.Status, o.PaymentStatus) {
		errs = append(errs, ErrIllegalStateTransition)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if item.UnitPriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.LineTotalMinor != int64(item.Qty)*item.UnitPriceMinor {
			errs = append(errs, ErrAmountMismatch)
		}
		calc += item.LineTotalMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderStatistics — количество заказов по статусам.
type OrderStatistics struct {
	Total    int
	ByStatus map[OrderStatus]int
	// RevenueMinor — сумма оплаченных и не возвращённых заказов.
	RevenueMinor int64
}
