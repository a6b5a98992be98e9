package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// ErrGatewayUnavailable — breaker открыт, вызов шлюза не выполнялся.
var ErrGatewayUnavailable = fmt.Errorf("%w: circuit breaker is open", domain.ErrGatewayError)

// BreakerConfig — параметры circuit breaker вокруг шлюза.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures — подряд идущие технические ошибки, размыкающие цепь.
	ConsecutiveFailures uint32
	// OpenTimeout — время в открытом состоянии до пробного запроса.
	OpenTimeout time.Duration
	// HalfOpenRequests — число пробных запросов в полуоткрытом состоянии.
	HalfOpenRequests uint32
	// Interval — период сброса счётчиков в закрытом состоянии (0 — не сбрасывать).
	Interval time.Duration
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "payment-gateway",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
		Interval:            time.Minute,
	}
}

// BreakerGateway защищает шлюз circuit breaker'ом. Бизнес-отказы считаются
// успешными ответами и цепь не размыкают.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerGateway оборачивает шлюз. metrics и logger могут быть nil.
func NewBreakerGateway(next Gateway, cfg BreakerConfig, m *metrics.Metrics, logger *log.Entry) *BreakerGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-breaker")
	}
	defaults := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}

	threshold := cfg.ConsecutiveFailures
	m.SetBreakerState(cfg.Name, breakerStateValue(gobreaker.StateClosed))

	return &BreakerGateway{
		next: next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.HalfOpenRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				m.SetBreakerState(name, breakerStateValue(to))
				logger.WithFields(log.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("payment gateway breaker state changed")
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsDecline(err)
			},
		}),
	}
}

// Authorize вызывает шлюз через breaker.
func (g *BreakerGateway) Authorize(ctx context.Context, auth Authorization) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Authorize(ctx, auth)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrGatewayUnavailable
	}
	return err
}

// State возвращает текущее состояние цепи.
func (g *BreakerGateway) State() gobreaker.State {
	return g.breaker.State()
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

var _ Gateway = (*BreakerGateway)(nil)
