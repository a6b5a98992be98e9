package app

import (
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения. Все поля сравнимы, чтобы
// конфигурации можно было сравнивать через ==.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает кэш корзин; пустое значение отключает кэш.
	RedisAddr    string
	RedisCartTTL time.Duration

	// KafkaBrokers — список брокеров через запятую; пусто означает работу без Kafka.
	KafkaBrokers       string
	KafkaConsumerGroup string
	// StockAlertsViaKafka переключает обработку событий остатков на consumer group.
	StockAlertsViaKafka bool

	Currency           string
	PaymentTimeout     time.Duration
	PaymentInFlightTTL time.Duration
	GatewayLatency     time.Duration
	CODLimitMinor      int64
	RequestTimeout     time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — размер очереди outbox, после которого health отдаёт degraded.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		RedisCartTTL: 10 * time.Minute,

		KafkaConsumerGroup: "marketplace-stock-alerts",

		Currency:           domain.DefaultCurrency,
		PaymentTimeout:     10 * time.Second,
		PaymentInFlightTTL: 5 * time.Minute,
		GatewayLatency:     100 * time.Millisecond,
		CODLimitMinor:      5_000_000,
		RequestTimeout:     30 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  10,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
