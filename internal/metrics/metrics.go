// Package metrics содержит Prometheus-метрики ядра маркетплейса.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Metrics — метрики оформления, оплаты, возвратов, жизненного цикла и остатков.
// Методы безопасны для nil-получателя, поэтому сервисы работают и без метрик.
type Metrics struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram

	payments        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	paymentsPending prometheus.Gauge
	breakerState    *prometheus.GaugeVec

	refunds     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	stockAlerts *prometheus.CounterVec
	cartCache   *prometheus.CounterVec
}

// New регистрирует метрики в DefaultRegisterer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer регистрирует метрики в переданном реестре. Повторная
// регистрация возвращает уже существующие коллекторы.
func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_checkouts_total",
			Help: "Checkout attempts by result",
		}, []string{"result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_checkout_duration_seconds",
			Help:    "Duration of the checkout transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		})),
		payments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_payments_total",
			Help: "Payment attempts by method and result code",
		}, []string{"method", "code"})),
		gatewayDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_payment_gateway_duration_seconds",
			Help:    "Latency of payment gateway authorization calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"})),
		paymentsPending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketplace_payments_in_flight",
			Help: "Payment attempts waiting for the gateway",
		})),
		breakerState: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketplace_gateway_breaker_state",
			Help: "Circuit breaker state of the payment gateway (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})),
		refunds: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_refunds_total",
			Help: "Refund attempts by result",
		}, []string{"result"})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "Applied order lifecycle transitions by event",
		}, []string{"event"})),
		stockAlerts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_stock_alerts_total",
			Help: "Stock alerts by kind and delivery result",
		}, []string{"kind", "result"})),
		cartCache: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_cart_cache_requests_total",
			Help: "Cart cache lookups by result",
		}, []string{"result"})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordCheckout учитывает попытку оформления.
func (m *Metrics) RecordCheckout(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordPayment учитывает итог попытки оплаты с машинным кодом результата.
func (m *Metrics) RecordPayment(method, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = ResultSuccess
	}
	m.payments.WithLabelValues(method, code).Inc()
}

// ObserveGateway записывает длительность вызова шлюза.
func (m *Metrics) ObserveGateway(method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// PaymentStarted увеличивает число платежей в ожидании шлюза.
func (m *Metrics) PaymentStarted() {
	if m == nil {
		return
	}
	m.paymentsPending.Inc()
}

// PaymentFinished уменьшает число платежей в ожидании шлюза.
func (m *Metrics) PaymentFinished() {
	if m == nil {
		return
	}
	m.paymentsPending.Dec()
}

// SetBreakerState публикует состояние circuit breaker.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

// RecordRefund учитывает попытку возврата.
func (m *Metrics) RecordRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

// RecordTransition учитывает применённый переход заказа.
func (m *Metrics) RecordTransition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

// RecordStockAlert учитывает оповещение об остатке.
func (m *Metrics) RecordStockAlert(kind, result string) {
	if m == nil {
		return
	}
	m.stockAlerts.WithLabelValues(kind, result).Inc()
}

// RecordCartCache учитывает обращение к кэшу корзин: hit, miss или error.
func (m *Metrics) RecordCartCache(result string) {
	if m == nil {
		return
	}
	m.cartCache.WithLabelValues(result).Inc()
}
