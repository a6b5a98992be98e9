package outbox

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Metrics — метрики доставки outbox.
type Metrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics возвращает метрики, зарегистрированные в prometheus.DefaultRegisterer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics регистрирует метрики в registerer. Повторная регистрация в том же
// реестре паникует, поэтому каждому реестру нужен один вызов.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketplace_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketplace_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

func (m *Metrics) attempt(result string) {
	m.publishAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) backlog(stats domain.OutboxStats, now time.Time) {
	m.pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}

	age := now.Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}
