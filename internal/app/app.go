// Package app собирает процесс маркетплейса: хранилище, сервисы ядра,
// фоновые воркеры, HTTP API, gRPC health и сервер метрик.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/marketplace/internal/api"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run запускает приложение и блокируется до отмены ctx или падения сервера.
// При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(registry)

	cartCache, closeCache := initCartCache(ctx, cfg, logger)
	if closeCache != nil {
		defer func() { _ = closeCache() }()
	}
	var cache domain.CartCache
	if cartCache != nil {
		cache = cartCache
	}

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(producer, logger)

	alerts := inventory.NewAlertHandler(stockNotifier(producer, logger), logger.WithField("component", "stock-alerts"), m)
	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(outbox.NewMetrics(registry)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)))
	}
	fanout := outbox.NewFanoutPublisher(outboxTargets(cfg, producer, alerts)...)
	outboxWorker := outbox.NewWorker(deps.store.Repos().Outbox, fanout, workerOpts...)
	logger.WithField("targets", fanout.Targets()).Info("outbox worker configured")

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(idempotency.NewCleanupMetrics(registry)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	var consumer *kafka.Consumer
	if producer != nil && cfg.StockAlertsViaKafka {
		consumer, err = kafka.NewConsumer(splitBrokers(cfg.KafkaBrokers), cfg.KafkaConsumerGroup,
			[]string{kafka.TopicStockEvents},
			kafka.OutboxHandler(alerts, logger.WithField("component", "stock-consumer")),
			kafka.WithDLQ(producer),
			kafka.WithConsumerLogger(logger.WithField("component", "stock-consumer")),
		)
		if err != nil {
			return fmt.Errorf("create stock events consumer: %w", err)
		}
	}

	services := buildServices(cfg, deps.store, cache, m, logger)
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency")),
	)
	apiServer := api.NewServer(services,
		api.WithLogger(log.WithField("component", "http-api")),
		api.WithIdempotency(guard),
		api.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.store.Repos().Outbox, cfg.OutboxMaxPending))
	if cartCache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", cartCache.Ping))
	}

	grpcServer, grpcHealth := newGRPCServer(registry, logger)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http api: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler, registry)

	stopOutbox, outboxDone := startWorker(ctx, outboxWorker.Run)
	stopCleanup, cleanupDone := startWorker(ctx, cleanupWorker.Run)
	var stopConsumer context.CancelFunc
	if consumer != nil {
		consumerCtx, cancel := context.WithCancel(ctx)
		stopConsumer = cancel
		if err := consumer.Start(consumerCtx); err != nil {
			logger.WithError(err).Warn("stock events consumer failed to start")
		}
	}

	apiSrv := &http.Server{Handler: apiServer.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("сервер остановился с ошибкой")
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	if consumer != nil {
		stopConsumer()
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop stock events consumer")
		}
	}
	shutdownWorker(stopOutbox, outboxDone, logger)
	shutdownWorker(stopCleanup, cleanupDone, logger)

	return runErr
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом,
// reflection и метриками go-grpc-prometheus.
func newGRPCServer(registry prometheus.Registerer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	if err := registry.Register(grpcMetrics); err != nil {
		logger.WithError(err).Warn("failed to register grpc metrics")
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// outboxBacklogChecker отдаёт degraded, когда очередь outbox больше maxPending.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

// startWorker запускает run в отдельной горутине с собственной отменой.
func startWorker(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// shutdownWorker отменяет воркер и ждёт его завершения не дольше shutdownTimeout.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("worker did not stop in time")
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

func closeStorage(deps runtimeDependencies, logger *log.Entry) {
	if deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// startMetricsServer запускает HTTP-сервер с /metrics и health-эндпоинтами.
// Кроме глобального реестра отдаются метрики из gatherers.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler, gatherers ...prometheus.Gatherer) *http.Server {
	all := prometheus.Gatherers{prometheus.DefaultGatherer}
	all = append(all, gatherers...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(all, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
