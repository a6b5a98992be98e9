package api

import (
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
)

type productDTO struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"seller_id"`
	Name          string    `json:"name"`
	PriceMinor    int64     `json:"price_minor"`
	StockQuantity int32     `json:"stock_quantity"`
	MinStockLevel int32     `json:"min_stock_level"`
	LowStock      bool      `json:"low_stock"`
	OutOfStock    bool      `json:"out_of_stock"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{
		ID:            p.ID,
		SellerID:      p.SellerID,
		Name:          p.Name,
		PriceMinor:    p.PriceMinor,
		StockQuantity: p.StockQuantity,
		MinStockLevel: p.MinStockLevel,
		LowStock:      p.IsLowStock(),
		OutOfStock:    p.IsOutOfStock(),
		UpdatedAt:     p.UpdatedAt,
	}
}

func toProductDTOs(products []domain.Product) []productDTO {
	out := make([]productDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	return out
}

type cartItemDTO struct {
	ProductID      string    `json:"product_id"`
	Quantity       int32     `json:"quantity"`
	UnitPriceMinor int64     `json:"unit_price_minor"`
	LineTotalMinor int64     `json:"line_total_minor"`
	AddedAt        time.Time `json:"added_at"`
}

type cartDTO struct {
	ID         string        `json:"id"`
	BuyerID    string        `json:"buyer_id"`
	Items      []cartItemDTO `json:"items"`
	TotalMinor int64         `json:"total_minor"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func toCartDTO(c domain.Cart) cartDTO {
	items := make([]cartItemDTO, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemDTO{
			ProductID:      it.ProductID,
			Quantity:       it.Qty,
			UnitPriceMinor: it.UnitPriceMinor,
			LineTotalMinor: it.LineTotalMinor,
			AddedAt:        it.AddedAt,
		})
	}
	return cartDTO{
		ID:         c.ID,
		BuyerID:    c.BuyerID,
		Items:      items,
		TotalMinor: c.TotalMinor,
		UpdatedAt:  c.UpdatedAt,
	}
}

type cartSummaryDTO struct {
	BuyerID    string `json:"buyer_id"`
	Lines      int    `json:"lines"`
	ItemCount  int32  `json:"item_count"`
	TotalMinor int64  `json:"total_minor"`
}

func toCartSummaryDTO(s cart.Summary) cartSummaryDTO {
	return cartSummaryDTO{BuyerID: s.BuyerID, Lines: s.Lines, ItemCount: s.ItemCount, TotalMinor: s.TotalMinor}
}

type orderItemDTO struct {
	ProductID      string `json:"product_id"`
	SellerID       string `json:"seller_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	LineTotalMinor int64  `json:"line_total_minor"`
}

type orderDTO struct {
	ID              string         `json:"id"`
	BuyerID         string         `json:"buyer_id"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"payment_status"`
	Currency        string         `json:"currency"`
	AmountMinor     int64          `json:"amount_minor"`
	ShippingAddress string         `json:"shipping_address"`
	Items           []orderItemDTO `json:"items"`
	TransactionID   string         `json:"transaction_id,omitempty"`
	PaymentMethod   string         `json:"payment_method,omitempty"`
	PaymentDate     *time.Time     `json:"payment_date,omitempty"`
	DeliveryDate    *time.Time     `json:"delivery_date,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func toOrderDTO(o domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDTO{
			ProductID:      it.ProductID,
			SellerID:       it.SellerID,
			Quantity:       it.Qty,
			UnitPriceMinor: it.UnitPriceMinor,
			LineTotalMinor: it.LineTotalMinor,
		})
	}
	return orderDTO{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		Currency:        o.Currency,
		AmountMinor:     o.AmountMinor,
		ShippingAddress: o.ShippingAddress,
		Items:           items,
		TransactionID:   o.TransactionID,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentDate:     o.PaymentDate,
		DeliveryDate:    o.DeliveryDate,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	ActorID  string    `json:"actor_id,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func toTimelineDTOs(events []domain.TimelineEvent) []timelineEventDTO {
	out := make([]timelineEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventDTO{Type: e.Type, Reason: e.Reason, ActorID: e.ActorID, Occurred: e.Occurred})
	}
	return out
}

type paymentRecordDTO struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	BuyerID       string     `json:"buyer_id"`
	TransactionID string     `json:"transaction_id"`
	Method        string     `json:"method"`
	AmountMinor   int64      `json:"amount_minor"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureCode   string     `json:"failure_code,omitempty"`
	Message       string     `json:"message,omitempty"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	RefundID      string     `json:"refund_id,omitempty"`
	RefundDate    *time.Time `json:"refund_date,omitempty"`
	RefundReason  string     `json:"refund_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toPaymentRecordDTO(r domain.PaymentRecord) paymentRecordDTO {
	return paymentRecordDTO{
		ID:            r.ID,
		OrderID:       r.OrderID,
		BuyerID:       r.BuyerID,
		TransactionID: r.TransactionID,
		Method:        string(r.Method),
		AmountMinor:   r.AmountMinor,
		Currency:      r.Currency,
		Status:        string(r.Status),
		FailureCode:   r.FailureCode,
		Message:       r.Message,
		PaymentDate:   r.PaymentDate,
		RefundID:      r.RefundID,
		RefundDate:    r.RefundDate,
		RefundReason:  r.RefundReason,
		CreatedAt:     r.CreatedAt,
	}
}

type paymentResultDTO struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Code          string    `json:"code,omitempty"`
	Message       string    `json:"message,omitempty"`
	AmountMinor   int64     `json:"amount_minor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func toPaymentResultDTO(r payment.Result) paymentResultDTO {
	return paymentResultDTO{
		Success:       r.Success,
		TransactionID: r.TransactionID,
		PaymentID:     r.PaymentID,
		Code:          r.Code,
		Message:       r.Message,
		AmountMinor:   r.AmountMinor,
		Timestamp:     r.Timestamp,
	}
}

type statisticsDTO struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	RevenueMinor int64          `json:"revenue_minor"`
}

func toStatisticsDTO(s domain.OrderStatistics) statisticsDTO {
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, n := range s.ByStatus {
		byStatus[string(status)] = n
	}
	return statisticsDTO{Total: s.Total, ByStatus: byStatus, RevenueMinor: s.RevenueMinor}
}
