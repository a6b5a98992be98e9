package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CashOnDelivery фиксирует оплату при получении. Шлюз не вызывается.
type CashOnDelivery struct {
	limitMinor int64
}

// NewCashOnDelivery создаёт стратегию; limitMinor <= 0 снимает ограничение суммы.
func NewCashOnDelivery(limitMinor int64) *CashOnDelivery {
	return &CashOnDelivery{limitMinor: limitMinor}
}

func (s *CashOnDelivery) Method() domain.PaymentMethod { return domain.PaymentMethodCashOnDelivery }

func (s *CashOnDelivery) Process(ctx context.Context, order domain.Order, _ domain.Actor, _ Details) Result {
	if err := ctx.Err(); err != nil {
		return Failed(CodeGatewayTimeout, "payment cancelled")
	}
	if strings.TrimSpace(order.ShippingAddress) == "" {
		return Failed(CodeMissingFields, "shipping address is required for cash on delivery")
	}
	if s.limitMinor > 0 && order.AmountMinor > s.limitMinor {
		return Failed(CodeCODLimitExceeded,
			fmt.Sprintf("cash on delivery is limited to %d, order amount is %d", s.limitMinor, order.AmountMinor))
	}

	res := Succeeded(transactionID("COD_"), "cash on delivery accepted")
	res.AmountMinor = order.AmountMinor
	return res
}

var _ Strategy = (*CashOnDelivery)(nil)
