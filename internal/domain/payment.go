package domain

import "time"

// PaymentStatus описывает состояние оплаты заказа и отдельной попытки платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж ещё не проведён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted — шлюз подтвердил списание.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз отклонил платёж или произошла ошибка.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod — закрытый набор поддерживаемых способов оплаты.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

var paymentMethodNames = map[PaymentMethod]string{
	PaymentMethodCreditCard:     "Credit Card",
	PaymentMethodPayPal:         "PayPal",
	PaymentMethodStripe:         "Stripe",
	PaymentMethodBankTransfer:   "Bank Transfer",
	PaymentMethodCashOnDelivery: "Cash on Delivery",
}

// PaymentMethods возвращает все способы оплаты в фиксированном порядке.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		PaymentMethodCreditCard,
		PaymentMethodPayPal,
		PaymentMethodStripe,
		PaymentMethodBankTransfer,
		PaymentMethodCashOnDelivery,
	}
}

// Valid проверяет, что способ оплаты входит в закрытый набор.
func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethodNames[m]
	return ok
}

// DisplayName возвращает название способа оплаты для покупателя.
func (m PaymentMethod) DisplayName() string {
	if name, ok := paymentMethodNames[m]; ok {
		return name
	}
	return string(m)
}

// PaymentRecord — одна попытка оплаты. Повторная оплата заказа создаёт новую запись.
// Записи переживают удаление заказа и хранятся для аудита.
type PaymentRecord struct {
	ID            string
	OrderID       string
	BuyerID       string
	TransactionID string
	Method        PaymentMethod
	AmountMinor   int64
	Currency      string
	Status        PaymentStatus
	// FailureCode заполняется для неуспешных попыток.
	FailureCode  string
	Message      string
	PaymentDate  *time.Time
	RefundID     string
	RefundDate   *time.Time
	RefundReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanBeRefunded сообщает, что платёж завершён и ещё не возвращался.
func (p *PaymentRecord) CanBeRefunded() bool {
	return p.Status == PaymentStatusCompleted && p.RefundDate == nil
}

// IsActive — завершённый и не возвращённый платёж.
func (p *PaymentRecord) IsActive() bool {
	return p.CanBeRefunded()
}

// Clone возвращает копию записи с собственными указателями на даты.
func (p PaymentRecord) Clone() PaymentRecord {
	out := p
	if p.PaymentDate != nil {
		t := *p.PaymentDate
		out.PaymentDate = &t
	}
	if p.RefundDate != nil {
		t := *p.RefundDate
		out.RefundDate = &t
	}
	return out
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *PaymentRecord) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.TransactionID == "" {
		errs = append(errs, ErrTransactionIDRequired)
	}
	if !p.Method.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
