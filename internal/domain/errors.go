package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Базовые классы ошибок. Конкретные ошибки ниже оборачивают один из них,
// поэтому errors.Is(err, ErrValidation) работает для любой ошибки валидации.
var (
	// ErrValidation — некорректные входные данные (количество, поля платежа, формат).
	ErrValidation = errors.New("validation error")
	// ErrNotFound — сущность (корзина, заказ, товар, платёж) не найдена.
	ErrNotFound = errors.New("not found")
	// ErrIllegalStateTransition — операция недопустима в текущем состоянии агрегата.
	ErrIllegalStateTransition = errors.New("illegal state transition")
	// ErrPersistence — фатальная ошибка хранилища, операция прервана без частичной фиксации.
	ErrPersistence = errors.New("persistence error")
	// ErrForbidden — у актора нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
)

var (
	// Ошибка некорректного количества товара (<= 0).
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	// Ошибка отсутствующего покупателя.
	ErrBuyerRequired = fmt.Errorf("%w: buyer_id is required", ErrValidation)
	// Ошибка отсутствующего продавца у товара.
	ErrSellerRequired = fmt.Errorf("%w: seller_id is required", ErrValidation)
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = fmt.Errorf("%w: product_id is required", ErrValidation)
	// Ошибка неположительной цены товара.
	ErrPriceInvalid = fmt.Errorf("%w: price must be greater than zero", ErrValidation)
	// Ошибка отрицательного остатка.
	ErrStockNegative = fmt.Errorf("%w: stock quantity must be non-negative", ErrValidation)
	// Ошибка порога низкого остатка меньше единицы.
	ErrMinStockLevelInvalid = fmt.Errorf("%w: min stock level must be at least 1", ErrValidation)
	// Ошибка пустого адреса доставки при оформлении.
	ErrShippingAddressRequired = fmt.Errorf("%w: shipping address is required", ErrValidation)
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = fmt.Errorf("%w: currency is required", ErrValidation)
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = fmt.Errorf("%w: amount_minor must be non-negative", ErrValidation)
	// Ошибка, если цена позиции неположительная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be greater than zero", ErrValidation)
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = fmt.Errorf("%w: order amount does not match items sum", ErrValidation)
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = fmt.Errorf("%w: order_id is required", ErrValidation)
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = fmt.Errorf("%w: payment amount must be non-negative", ErrValidation)
	// Ошибка неизвестного способа оплаты в записи платежа.
	ErrPaymentMethodInvalid = fmt.Errorf("%w: payment method is invalid", ErrValidation)
	// Ошибка пустого transaction id.
	ErrTransactionIDRequired = fmt.Errorf("%w: transaction_id is required", ErrValidation)
	// Ошибка пустого ключа идемпотентности.
	ErrIdempotencyKeyRequired = fmt.Errorf("%w: idempotency key is required", ErrValidation)
	// Ошибка пустого хеша запроса.
	ErrIdempotencyRequestHashRequired = fmt.Errorf("%w: idempotency request hash is required", ErrValidation)
)

var (
	// ErrInsufficientStock возвращается, если живого остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCartEmpty — оформление пустой корзины.
	ErrCartEmpty = fmt.Errorf("%w: cart is empty", ErrValidation)
	// ErrUnsupportedPaymentMethod — для способа оплаты не зарегистрирована стратегия.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	// ErrGatewayDeclined — платёжный шлюз отклонил операцию (бизнес-отказ).
	ErrGatewayDeclined = errors.New("payment declined by gateway")
	// ErrGatewayError — шлюз недоступен, таймаут или техническая ошибка.
	ErrGatewayError = errors.New("payment gateway error")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCartNotFound возвращается, если у покупателя нет корзины.
	ErrCartNotFound = fmt.Errorf("cart %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrPaymentNotFound возвращается, если запись платежа не найдена.
	ErrPaymentNotFound = fmt.Errorf("payment record %w", ErrNotFound)
	// ErrIdempotencyKeyNotFound возвращается, если ключ идемпотентности отсутствует.
	ErrIdempotencyKeyNotFound = fmt.Errorf("idempotency key %w", ErrNotFound)
)

var (
	// ErrCannotCancel — отмена возможна только из pending/confirmed.
	ErrCannotCancel = fmt.Errorf("%w: order cannot be cancelled", ErrIllegalStateTransition)
	// ErrCannotDelete — удалять можно только confirmed/delivered/cancelled.
	ErrCannotDelete = fmt.Errorf("%w: order cannot be deleted", ErrIllegalStateTransition)
	// ErrCannotShip — отгрузка возможна только для оплаченного confirmed заказа.
	ErrCannotShip = fmt.Errorf("%w: order cannot be shipped", ErrIllegalStateTransition)
	// ErrCannotDeliver — доставка возможна только из shipped/confirmed.
	ErrCannotDeliver = fmt.Errorf("%w: order cannot be delivered", ErrIllegalStateTransition)
	// ErrInvalidOrderStatus — оплачивать можно только pending заказ.
	ErrInvalidOrderStatus = fmt.Errorf("%w: order is not pending", ErrIllegalStateTransition)
	// ErrAlreadyPaid — заказ уже оплачен.
	ErrAlreadyPaid = fmt.Errorf("%w: order is already paid", ErrIllegalStateTransition)
	// ErrPaymentInProgress — по заказу уже идёт попытка оплаты.
	ErrPaymentInProgress = fmt.Errorf("%w: payment attempt is in progress", ErrIllegalStateTransition)
	// ErrAlreadyRefunded — запись платежа уже возвращена.
	ErrAlreadyRefunded = fmt.Errorf("%w: payment is already refunded", ErrIllegalStateTransition)
	// ErrNotRefundable — вернуть можно только завершённый платёж.
	ErrNotRefundable = fmt.Errorf("%w: payment cannot be refunded", ErrIllegalStateTransition)
)

var (
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = fmt.Errorf("%w: version conflict", ErrPersistence)
	// ErrAlreadyExists — запись с таким ключом уже существует.
	ErrAlreadyExists = fmt.Errorf("%w: record already exists", ErrPersistence)
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IsIdempotencyConflict проверяет конфликт по ключу идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к классу NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CheckoutError собирает проблемы по каждому товару корзины.
// Ключом служит идентификатор товара.
type CheckoutError struct {
	Problems map[string]error
}

func (e *CheckoutError) Error() string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Problems[k].Error())
	}
	return "checkout validation failed: " + strings.Join(parts, "; ")
}

// Unwrap отдаёт все вложенные ошибки, чтобы errors.Is видел ErrInsufficientStock.
func (e *CheckoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Problems))
	for _, err := range e.Problems {
		errs = append(errs, err)
	}
	return errs
}

// Messages возвращает человекочитаемые сообщения по товарам.
func (e *CheckoutError) Messages() map[string]string {
	out := make(map[string]string, len(e.Problems))
	for k, err := range e.Problems {
		out[k] = err.Error()
	}
	return out
}

// codes упорядочены от частного к общему: первая совпавшая ошибка определяет код.
var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidQuantity, "INVALID_QUANTITY"},
	{ErrCartEmpty, "CART_EMPTY"},
	{ErrShippingAddressRequired, "SHIPPING_ADDRESS_REQUIRED"},
	{ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{ErrUnsupportedPaymentMethod, "UNSUPPORTED_METHOD"},
	{ErrGatewayDeclined, "GATEWAY_DECLINED"},
	{ErrGatewayError, "GATEWAY_ERROR"},
	{ErrCannotCancel, "CANNOT_CANCEL"},
	{ErrCannotDelete, "CANNOT_DELETE"},
	{ErrCannotShip, "CANNOT_SHIP"},
	{ErrCannotDeliver, "CANNOT_DELIVER"},
	{ErrInvalidOrderStatus, "INVALID_ORDER_STATUS"},
	{ErrAlreadyPaid, "ALREADY_PAID"},
	{ErrPaymentInProgress, "PAYMENT_IN_PROGRESS"},
	{ErrAlreadyRefunded, "ALREADY_REFUNDED"},
	{ErrNotRefundable, "NOT_REFUNDABLE"},
	{ErrVersionConflict, "VERSION_CONFLICT"},
	{ErrAlreadyExists, "ALREADY_EXISTS"},
	{ErrIdempotencyKeyAlreadyExists, "IDEMPOTENCY_CONFLICT"},
	{ErrIdempotencyHashMismatch, "IDEMPOTENCY_CONFLICT"},
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrIllegalStateTransition, "ILLEGAL_STATE_TRANSITION"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrPersistence, "PERSISTENCE_ERROR"},
}

// Code возвращает машиночитаемый код ошибки. Для неизвестных ошибок возвращается SYSTEM_ERROR.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var checkoutErr *CheckoutError
	if errors.As(err, &checkoutErr) {
		return "CHECKOUT_VALIDATION_FAILED"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "SYSTEM_ERROR"
}
