package payment

import (
	"context"
	"regexp"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// PayPal проводит оплату кошельком PayPal.
type PayPal struct {
	gateway Gateway
}

func NewPayPal(gw Gateway) *PayPal {
	return &PayPal{gateway: gw}
}

func (s *PayPal) Method() domain.PaymentMethod { return domain.PaymentMethodPayPal }

func (s *PayPal) Process(ctx context.Context, order domain.Order, _ domain.Actor, details Details) Result {
	if details.Data == nil {
		return Failed(CodeInvalidData, "PayPal payment data is missing")
	}
	if details.missing(FieldEmail, FieldPassword) {
		return Failed(CodeMissingFields, "PayPal email and password are required")
	}
	email := details.Get(FieldEmail)
	if !emailRe.MatchString(email) {
		return Failed(CodeInvalidEmail, "invalid PayPal email address")
	}

	return authorize(ctx, s.gateway, Authorization{
		Method:      s.Method(),
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Credential:  email,
	}, "PP_", "PayPal payment processed successfully")
}

var _ Strategy = (*PayPal)(nil)
