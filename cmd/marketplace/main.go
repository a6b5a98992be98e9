package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	envLogLevel = "MARKETPLACE_LOG_LEVEL"

	envHTTPAddr    = "MARKETPLACE_HTTP_ADDR"
	envGRPCAddr    = "MARKETPLACE_GRPC_ADDR"
	envMetricsAddr = "MARKETPLACE_METRICS_ADDR"

	envStorageDriver       = "MARKETPLACE_STORAGE_DRIVER"
	envPostgresDSN         = "MARKETPLACE_POSTGRES_DSN"
	envPostgresAutoMigrate = "MARKETPLACE_POSTGRES_AUTO_MIGRATE"

	envRedisAddr    = "MARKETPLACE_REDIS_ADDR"
	envRedisCartTTL = "MARKETPLACE_REDIS_CART_TTL"

	envKafkaBrokers        = "MARKETPLACE_KAFKA_BROKERS"
	envKafkaConsumerGroup  = "MARKETPLACE_KAFKA_CONSUMER_GROUP"
	envStockAlertsViaKafka = "MARKETPLACE_STOCK_ALERTS_VIA_KAFKA"

	envCurrency           = "MARKETPLACE_CURRENCY"
	envPaymentTimeout     = "MARKETPLACE_PAYMENT_TIMEOUT"
	envPaymentInFlightTTL = "MARKETPLACE_PAYMENT_IN_FLIGHT_TTL"
	envGatewayLatency     = "MARKETPLACE_GATEWAY_LATENCY"
	envCODLimitMinor      = "MARKETPLACE_COD_LIMIT_MINOR"
	envRequestTimeout     = "MARKETPLACE_REQUEST_TIMEOUT"

	envOutboxPollInterval = "MARKETPLACE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "MARKETPLACE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "MARKETPLACE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "MARKETPLACE_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "MARKETPLACE_OUTBOX_MAX_PENDING"

	envIdempotencyTTL              = "MARKETPLACE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "MARKETPLACE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "MARKETPLACE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

// warning — отвергнутое значение переменной окружения.
type warning struct {
	key   string
	value string
	err   error
}

func (w warning) fields() log.Fields {
	return log.Fields{"env": w.key, "value": w.value}
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).WithField("env", envLogLevel).Warn("invalid log level, using info")
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию,
// а причина возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []warning) {
	cfg := app.DefaultConfig()
	r := reader{lookup: lookup}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)

	var driver string
	if r.str(envStorageDriver, &driver) {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(driver))
	}
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.str(envRedisAddr, &cfg.RedisAddr)
	r.duration(envRedisCartTTL, &cfg.RedisCartTTL, positiveDuration, "must be > 0")

	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	r.boolean(envStockAlertsViaKafka, &cfg.StockAlertsViaKafka)

	var currency string
	if r.str(envCurrency, &currency) {
		cfg.Currency = strings.ToUpper(currency)
	}
	r.duration(envPaymentTimeout, &cfg.PaymentTimeout, positiveDuration, "must be > 0")
	r.duration(envPaymentInFlightTTL, &cfg.PaymentInFlightTTL, positiveDuration, "must be > 0")
	r.duration(envGatewayLatency, &cfg.GatewayLatency, nonNegativeDuration, "must be >= 0")
	r.int64(envCODLimitMinor, &cfg.CODLimitMinor)
	r.duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")

	r.duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	return cfg, r.warnings
}

type reader struct {
	lookup   envLookup
	warnings []warning
}

// raw возвращает непустое значение переменной без пробелов по краям.
func (r *reader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *reader) warn(key, value string, err error) {
	r.warnings = append(r.warnings, warning{key: key, value: value, err: err})
}

func (r *reader) str(key string, dst *string) bool {
	value, ok := r.raw(key)
	if ok {
		*dst = value
	}
	return ok
}

func (r *reader) boolean(key string, dst *bool) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := parseBool(value)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func (r *reader) integer(key string, dst *int, validate func(int) bool, msg string) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := parseInt(value, validate, msg)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func (r *reader) int64(key string, dst *int64) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		r.warn(key, value, errors.New("must be a non-negative integer"))
		return
	}
	*dst = parsed
}

func (r *reader) duration(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(value, validate, msg)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func positiveInt(v int) bool { return v > 0 }
func nonNegativeInt(v int) bool { return v >= 0 }
func positiveDuration(v time.Duration) bool { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithFields(w.fields()).WithError(w.err).Warn("ignoring invalid environment value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"redis":          cfg.RedisAddr != "",
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем marketplace")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("marketplace остановлен")
}
