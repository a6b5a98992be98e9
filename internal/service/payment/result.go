// Package payment реализует способы оплаты и оркестратор платежей заказа.
package payment

import "time"

// Коды результата оплаты.
const (
	CodeInvalidData                 = "INVALID_DATA"
	CodeMissingFields               = "MISSING_FIELDS"
	CodeInvalidCard                 = "INVALID_CARD"
	CodeInvalidExpiry               = "INVALID_EXPIRY"
	CodeInvalidCVV                  = "INVALID_CVV"
	CodeInvalidEmail                = "INVALID_EMAIL"
	CodeInvalidIBAN                 = "INVALID_IBAN"
	CodeCODLimitExceeded            = "COD_LIMIT_EXCEEDED"
	CodeCardDeclined                = "CARD_DECLINED"
	CodeAuthFailed                  = "AUTH_FAILED"
	CodeStripeDeclined              = "STRIPE_DECLINED"
	CodeGatewayTimeout              = "GATEWAY_TIMEOUT"
	CodeGatewayUnavailable          = "GATEWAY_UNAVAILABLE"
	CodeGatewayError                = "GATEWAY_ERROR"
	CodeUnsupportedMethod           = "UNSUPPORTED_METHOD"
	CodeInvalidOrderStatus          = "INVALID_ORDER_STATUS"
	CodeAlreadyPaid                 = "ALREADY_PAID"
	CodePaymentInProgress           = "PAYMENT_IN_PROGRESS"
	CodeOrderCancelled              = "ORDER_CANCELLED"
	CodeOrderNotFound               = "ORDER_NOT_FOUND"
	CodeForbidden                   = "FORBIDDEN"
	CodePaymentRecordCreationFailed = "PAYMENT_RECORD_CREATION_FAILED"
	CodeOrderUpdateFailed           = "ORDER_UPDATE_FAILED"
	CodeSystemError                 = "SYSTEM_ERROR"
)

// Result — итог попытки оплаты. Способы оплаты и оркестратор сообщают об
// ошибках через Result, а не через error.
type Result struct {
	Success       bool
	TransactionID string
	// PaymentID — запись журнала, созданная для попытки (заполняет оркестратор).
	PaymentID   string
	Code        string
	Message     string
	AmountMinor int64
	Timestamp   time.Time
}

// Succeeded создаёт успешный результат.
func Succeeded(transactionID, message string) Result {
	return Result{Success: true, TransactionID: transactionID, Message: message, Timestamp: time.Now().UTC()}
}

// Failed создаёт неуспешный результат с машинным кодом.
func Failed(code, message string) Result {
	return Result{Code: code, Message: message, Timestamp: time.Now().UTC()}
}
