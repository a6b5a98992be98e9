package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Strategy — один способ оплаты. Process проверяет поля Details, обращается к
// шлюзу и возвращает Result. Стратегии не меняют ни заказ, ни товары.
type Strategy interface {
	Method() domain.PaymentMethod
	Process(ctx context.Context, order domain.Order, actor domain.Actor, details Details) Result
}

// Registry — таблица диспетчеризации способов оплаты.
type Registry struct {
	strategies map[domain.PaymentMethod]Strategy
}

// NewRegistry регистрирует стратегии. Повторная регистрация метода заменяет предыдущую.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[domain.PaymentMethod]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Method()] = s
	}
	return r
}

// RegistryConfig — параметры стандартного набора стратегий.
type RegistryConfig struct {
	// CODLimitMinor — максимальная сумма оплаты при получении (0 — без ограничения).
	CODLimitMinor int64
	// Clock используется для проверки срока действия карты.
	Clock func() time.Time
}

// DefaultRegistry собирает все пять способов оплаты поверх одного шлюза.
func DefaultRegistry(gw Gateway, cfg RegistryConfig) *Registry {
	return NewRegistry(
		NewCreditCard(gw, cfg.Clock),
		NewPayPal(gw),
		NewStripe(gw),
		NewBankTransfer(gw),
		NewCashOnDelivery(cfg.CODLimitMinor),
	)
}

// Supports сообщает, зарегистрирован ли способ оплаты.
func (r *Registry) Supports(method domain.PaymentMethod) bool {
	_, ok := r.strategies[method]
	return ok
}

// Strategy возвращает стратегию способа оплаты.
func (r *Registry) Strategy(method domain.PaymentMethod) (Strategy, bool) {
	s, ok := r.strategies[method]
	return s, ok
}

// MethodInfo — способ оплаты для витрины.
type MethodInfo struct {
	Method      domain.PaymentMethod `json:"method"`
	DisplayName string               `json:"display_name"`
}

// SupportedMethods перечисляет зарегистрированные способы в фиксированном порядке.
func (r *Registry) SupportedMethods() []MethodInfo {
	out := make([]MethodInfo, 0, len(r.strategies))
	for _, m := range domain.PaymentMethods() {
		if r.Supports(m) {
			out = append(out, MethodInfo{Method: m, DisplayName: m.DisplayName()})
		}
	}
	return out
}

// transactionID — префикс способа плюс восемь символов UUID в верхнем регистре.
func transactionID(prefix string) string {
	return prefix + strings.ToUpper(uuid.NewString()[:8])
}

// authorize вызывает шлюз и переводит ответ в Result.
func authorize(ctx context.Context, gw Gateway, auth Authorization, prefix, successMessage string) Result {
	err := gw.Authorize(ctx, auth)
	switch {
	case err == nil:
		res := Succeeded(transactionID(prefix), successMessage)
		res.AmountMinor = auth.AmountMinor
		return res
	case IsDecline(err):
		var decline *DeclineError
		errors.As(err, &decline)
		return Failed(decline.Code, decline.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return Failed(CodeGatewayTimeout, "payment gateway did not answer in time")
	case errors.Is(err, context.Canceled):
		return Failed(CodeGatewayError, "payment gateway call was cancelled")
	case errors.Is(err, ErrGatewayUnavailable):
		return Failed(CodeGatewayUnavailable, "payment gateway is temporarily unavailable")
	default:
		return Failed(CodeGatewayError, "payment gateway error: "+err.Error())
	}
}
