package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CreditCard проводит оплату банковской картой.
type CreditCard struct {
	gateway Gateway
	now     func() time.Time
}

// NewCreditCard создаёт стратегию. now используется для проверки срока действия карты.
func NewCreditCard(gw Gateway, now func() time.Time) *CreditCard {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CreditCard{gateway: gw, now: now}
}

func (s *CreditCard) Method() domain.PaymentMethod { return domain.PaymentMethodCreditCard }

func (s *CreditCard) Process(ctx context.Context, order domain.Order, _ domain.Actor, details Details) Result {
	if details.Data == nil {
		return Failed(CodeInvalidData, "payment data is missing")
	}
	if details.missing(FieldCardNumber, FieldExpiryDate, FieldCVV, FieldCardHolder) {
		return Failed(CodeMissingFields, "required credit card fields are missing")
	}

	number := normalizeCardNumber(details.Get(FieldCardNumber))
	if !validCardNumber(number) {
		return Failed(CodeInvalidCard, "invalid credit card number")
	}
	if !validExpiry(details.Get(FieldExpiryDate), s.now()) {
		return Failed(CodeInvalidExpiry, "card has expired or expiry date is invalid")
	}
	if !validCVV(details.Get(FieldCVV)) {
		return Failed(CodeInvalidCVV, "invalid card security code")
	}

	return authorize(ctx, s.gateway, Authorization{
		Method:      s.Method(),
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Credential:  number,
	}, "CC_", "credit card payment processed successfully")
}

func normalizeCardNumber(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(raw)
}

// validCardNumber проверяет длину 13–19 цифр и контрольную сумму Луна.
func validCardNumber(number string) bool {
	if len(number) < 13 || len(number) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validExpiry принимает MM/YY; карта действует до конца указанного месяца.
func validExpiry(raw string, now time.Time) bool {
	month, year, ok := strings.Cut(raw, "/")
	if !ok || len(month) != 2 || len(year) != 2 {
		return false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 0 {
		return false
	}
	y += 2000

	current := now.Year()*12 + int(now.Month())
	return y*12+m >= current
}

func validCVV(raw string) bool {
	if len(raw) < 3 || len(raw) > 4 {
		return false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var _ Strategy = (*CreditCard)(nil)
