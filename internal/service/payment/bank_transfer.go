package payment

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// BankTransfer проводит оплату банковским переводом по IBAN.
type BankTransfer struct {
	gateway Gateway
}

func NewBankTransfer(gw Gateway) *BankTransfer {
	return &BankTransfer{gateway: gw}
}

func (s *BankTransfer) Method() domain.PaymentMethod { return domain.PaymentMethodBankTransfer }

func (s *BankTransfer) Process(ctx context.Context, order domain.Order, _ domain.Actor, details Details) Result {
	if details.Data == nil {
		return Failed(CodeInvalidData, "bank transfer data is missing")
	}
	if details.missing(FieldAccountHolder, FieldIBAN) {
		return Failed(CodeMissingFields, "account holder and IBAN are required")
	}
	iban := normalizeIBAN(details.Get(FieldIBAN))
	if !validIBAN(iban) {
		return Failed(CodeInvalidIBAN, "invalid IBAN")
	}

	return authorize(ctx, s.gateway, Authorization{
		Method:      s.Method(),
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Credential:  iban,
	}, "BT_", "bank transfer registered successfully")
}

func normalizeIBAN(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
}

// validIBAN проверяет формат и контрольное число mod 97 (ISO 13616).
func validIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i := 0; i < 2; i++ {
		if iban[i] < 'A' || iban[i] > 'Z' {
			return false
		}
	}
	for i := 2; i < 4; i++ {
		if iban[i] < '0' || iban[i] > '9' {
			return false
		}
	}

	rearranged := iban[4:] + iban[:4]
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		switch {
		case c >= '0' && c <= '9':
			remainder = (remainder*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			remainder = (remainder*100 + int(c-'A') + 10) % 97
		default:
			return false
		}
	}
	return remainder == 1
}

var _ Strategy = (*BankTransfer)(nil)
