package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Authorization — запрос на списание к внешнему шлюзу.
type Authorization struct {
	Method      domain.PaymentMethod
	OrderID     string
	AmountMinor int64
	Currency    string
	// Credential — то, по чему шлюз принимает решение: номер карты, email, токен, IBAN.
	Credential string
}

// Gateway — внешний платёжный шлюз. nil означает одобрение, *DeclineError означает
// бизнес-отказ, любая другая ошибка считается технической проблемой шлюза.
type Gateway interface {
	Authorize(ctx context.Context, auth Authorization) error
}

// DeclineError — отказ шлюза с собственным кодом.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap позволяет проверять отказ через errors.Is(err, domain.ErrGatewayDeclined).
func (e *DeclineError) Unwrap() error {
	return domain.ErrGatewayDeclined
}

// IsDecline сообщает, что ошибка шлюза является бизнес-отказом.
func IsDecline(err error) bool {
	var decline *DeclineError
	return errors.As(err, &decline)
}

// Тестовые значения, на которые SimulatedGateway отвечает отказом.
const (
	DeclinedCardNumber    = "4000000000000002"
	FailingPayPalEmail    = "fail@test.com"
	FailingStripePrefix   = "fail_"
	defaultGatewayLatency = 0
)

// SimulatedGateway имитирует шлюз с задержкой ответа.
type SimulatedGateway struct {
	latency time.Duration
}

// NewSimulatedGateway создаёт имитацию шлюза с заданной задержкой.
func NewSimulatedGateway(latency time.Duration) *SimulatedGateway {
	if latency < 0 {
		latency = defaultGatewayLatency
	}
	return &SimulatedGateway{latency: latency}
}

// Authorize ждёт latency (или отмены контекста) и применяет правила отказа.
func (g *SimulatedGateway) Authorize(ctx context.Context, auth Authorization) error {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	switch auth.Method {
	case domain.PaymentMethodCreditCard:
		if auth.Credential == DeclinedCardNumber {
			return &DeclineError{Code: CodeCardDeclined, Message: "card was declined by issuer"}
		}
	case domain.PaymentMethodPayPal:
		if strings.EqualFold(auth.Credential, FailingPayPalEmail) {
			return &DeclineError{Code: CodeAuthFailed, Message: "PayPal authentication failed"}
		}
	case domain.PaymentMethodStripe:
		if strings.HasPrefix(auth.Credential, FailingStripePrefix) {
			return &DeclineError{Code: CodeStripeDeclined, Message: "card was declined by Stripe"}
		}
	}
	return nil
}

var _ Gateway = (*SimulatedGateway)(nil)
