package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы агрегатов в outbox.
const (
	AggregateOrder   = "order"
	AggregateProduct = "product"
	AggregatePayment = "payment"
)

// Типы событий в outbox и timeline.
const (
	EventTypeOrderCreated        = "OrderCreated"
	EventTypeOrderPaid           = "OrderPaid"
	EventTypeOrderPaymentFailed  = "OrderPaymentFailed"
	EventTypeOrderCancelled      = "OrderCancelled"
	EventTypeOrderShipped        = "OrderShipped"
	EventTypeOrderDelivered      = "OrderDelivered"
	EventTypeOrderDeleted        = "OrderDeleted"
	EventTypePaymentRefunded     = "PaymentRefunded"
	EventTypePaymentLateCaptured = "PaymentLateCaptured"
	EventTypeStockChanged        = "ProductStockChanged"
)

// Причины изменения остатка.
const (
	StockReasonCheckout = "checkout"
	StockReasonCancel   = "cancel"
	StockReasonDelete   = "delete"
	StockReasonRestock  = "restock"
)

// OrderEventPayload — событие по заказу.
type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	BuyerID       string        `json:"buyer_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	AmountMinor   int64         `json:"amount_minor"`
	Currency      string        `json:"currency"`
	TransactionID string        `json:"transaction_id,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderEventPayload собирает payload из текущего состояния заказа.
func NewOrderEventPayload(order Order, reason string, now time.Time) OrderEventPayload {
	return OrderEventPayload{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
		TransactionID: order.TransactionID,
		PaymentMethod: order.PaymentMethod,
		Reason:        reason,
		OccurredAt:    now,
	}
}

// PaymentEventPayload — событие по записи платежа.
type PaymentEventPayload struct {
	PaymentID     string        `json:"payment_id"`
	OrderID       string        `json:"order_id"`
	TransactionID string        `json:"transaction_id"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	AmountMinor   int64         `json:"amount_minor"`
	Currency      string        `json:"currency"`
	RefundID      string        `json:"refund_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// StockChangedPayload — изменение остатка товара, на которое реагирует оповещатель.
type StockChangedPayload struct {
	ProductID     string    `json:"product_id"`
	SellerID      string    `json:"seller_id"`
	Name          string    `json:"name"`
	Previous      int32     `json:"previous_stock"`
	Current       int32     `json:"new_stock"`
	MinStockLevel int32     `json:"min_stock_level"`
	Reason        string    `json:"reason"`
	OrderID       string    `json:"order_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewStockChangedPayload собирает payload из результата изменения остатка.
func NewStockChangedPayload(change StockChange, reason, orderID string, now time.Time) StockChangedPayload {
	return StockChangedPayload{
		ProductID:     change.ProductID,
		SellerID:      change.SellerID,
		Name:          change.Name,
		Previous:      change.Previous,
		Current:       change.Current,
		MinStockLevel: change.MinStockLevel,
		Reason:        reason,
		OrderID:       orderID,
		OccurredAt:    now,
	}
}

// NewOutboxMessage сериализует payload в JSON-сообщение outbox.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
