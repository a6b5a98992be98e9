package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/api"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/ledger"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
)

// buildServices собирает сервисы ядра поверх хранилища. cache может быть nil.
func buildServices(cfg Config, store domain.Store, cache domain.CartCache, m *metrics.Metrics, logger *log.Entry) api.Services {
	cartOpts := []cart.Option{
		cart.WithLogger(logger.WithField("component", "cart")),
		cart.WithMetrics(m),
	}
	if cache != nil {
		cartOpts = append(cartOpts, cart.WithCache(cache))
	}
	carts := cart.NewService(store, cartOpts...)

	gateway := payment.NewBreakerGateway(
		payment.NewSimulatedGateway(cfg.GatewayLatency),
		payment.DefaultBreakerConfig(),
		m,
		logger.WithField("component", "payment-breaker"),
	)
	registry := payment.DefaultRegistry(gateway, payment.RegistryConfig{CODLimitMinor: cfg.CODLimitMinor})

	return api.Services{
		Inventory: inventory.NewService(store, inventory.WithLogger(logger.WithField("component", "inventory"))),
		Carts:     carts,
		Checkout: checkout.NewService(store,
			checkout.WithCartInvalidator(carts),
			checkout.WithLogger(logger.WithField("component", "checkout")),
			checkout.WithMetrics(m),
			checkout.WithCurrency(cfg.Currency),
		),
		Payments: payment.NewOrchestrator(store, registry,
			payment.WithLogger(logger.WithField("component", "payment")),
			payment.WithMetrics(m),
			payment.WithGatewayTimeout(cfg.PaymentTimeout),
			payment.WithInFlightTTL(cfg.PaymentInFlightTTL),
		),
		Ledger: ledger.NewService(store,
			ledger.WithLogger(logger.WithField("component", "ledger")),
			ledger.WithMetrics(m),
		),
		Orders: order.NewService(store,
			order.WithLogger(logger.WithField("component", "order")),
			order.WithMetrics(m),
		),
	}
}
