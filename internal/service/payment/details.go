package payment

import (
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Поля Details, которые читают способы оплаты.
const (
	FieldCardNumber      = "cardNumber"
	FieldExpiryDate      = "expiryDate"
	FieldCVV             = "cvv"
	FieldCardHolder      = "cardHolder"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldStripeToken     = "stripeToken"
	FieldPaymentMethodID = "paymentMethodId"
	FieldAccountHolder   = "accountHolder"
	FieldIBAN            = "iban"
)

// Details — способ оплаты и его параметры в свободной форме.
type Details struct {
	Method domain.PaymentMethod
	Data   map[string]string
}

// Get возвращает поле без пробелов по краям.
func (d Details) Get(key string) string {
	if d.Data == nil {
		return ""
	}
	return strings.TrimSpace(d.Data[key])
}

// missing сообщает, что хотя бы одно из полей пустое.
func (d Details) missing(keys ...string) bool {
	for _, key := range keys {
		if d.Get(key) == "" {
			return true
		}
	}
	return false
}
