package payment

import (
	"context"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Stripe проводит оплату по токену или сохранённому способу оплаты Stripe.
type Stripe struct {
	gateway Gateway
}

func NewStripe(gw Gateway) *Stripe {
	return &Stripe{gateway: gw}
}

func (s *Stripe) Method() domain.PaymentMethod { return domain.PaymentMethodStripe }

func (s *Stripe) Process(ctx context.Context, order domain.Order, _ domain.Actor, details Details) Result {
	if details.Data == nil {
		return Failed(CodeInvalidData, "Stripe payment data is missing")
	}
	credential := details.Get(FieldStripeToken)
	if credential == "" {
		credential = details.Get(FieldPaymentMethodID)
	}
	if credential == "" {
		return Failed(CodeMissingFields, "Stripe token or payment method id is required")
	}

	return authorize(ctx, s.gateway, Authorization{
		Method:      s.Method(),
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Credential:  credential,
	}, "ST_", "Stripe payment processed successfully")
}

var _ Strategy = (*Stripe)(nil)
