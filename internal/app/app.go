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

	healthcheck "github.com/vladislavdragonenkov/dms/internal/health"
	"github.com/vladislavdragonenkov/dms/internal/metrics"
	"github.com/vladislavdragonenkov/dms/internal/notify"
	"github.com/vladislavdragonenkov/dms/internal/service/drafts"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/service/outbox"
	"github.com/vladislavdragonenkov/dms/internal/service/schedule"
	"github.com/vladislavdragonenkov/dms/internal/session"
	"github.com/vladislavdragonenkov/dms/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/dms/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	pingTimeout     = 2 * time.Second
)

// services: собранные поверх хранилища сервисы.
type services struct {
	engine       *orders.Engine
	availability *schedule.AvailabilityService
	admin        *schedule.Admin
	binder       *session.Binder
	reaper       *drafts.Reaper
}

func buildServices(cfg Config, deps *runtimeDependencies, engineMetrics *metrics.EngineMetrics, logger *log.Entry) services {
	binder := session.NewBinder()
	engine := orders.NewEngine(deps.store, deps.store, binder,
		orders.WithLogger(logger.WithField("component", "orders")),
		orders.WithMetrics(engineMetrics),
		orders.WithBulkParallelism(cfg.BulkParallelism),
	)
	return services{
		engine:       engine,
		availability: schedule.NewAvailabilityService(deps.store, deps.store, time.Now, logger.WithField("component", "availability")),
		admin:        schedule.NewAdmin(deps.store, time.Now, logger.WithField("component", "schedule-admin")),
		binder:       binder,
		reaper: drafts.NewReaper(deps.store, engine,
			drafts.WithTTL(cfg.DraftTTL),
			drafts.WithInterval(cfg.DraftReaperInterval),
			drafts.WithBatchSize(cfg.DraftReaperBatchSize),
			drafts.WithLogger(logger.WithField("component", "draft-reaper")),
		),
	}
}

func newHTTPHandler(cfg Config, deps *runtimeDependencies, svc services, logger *log.Entry) http.Handler {
	handler := httpapi.NewHandler(httpapi.Dependencies{
		Availability: svc.availability,
		Engine:       svc.engine,
		Admin:        svc.admin,
		Config:       deps.store,
		Orders:       deps.store,
		Customers:    deps.store,
		Inventory:    deps.store,
		Timeline:     deps.timeline,
		Tokens:       svc.binder,
		Formatter:    notify.PlainText{},
	},
		httpapi.WithAdminToken(cfg.AdminToken),
		httpapi.WithLogger(logger.WithField("component", "http-api")),
	)
	return handler.Router()
}

func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", deps.store, pingTimeout))
	handler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outbox, cfg.OutboxMaxPending, cfg.OutboxMaxAge))
	return handler
}

// Run поднимает хранилище, фоновые воркеры и три listener: HTTP API, gRPC health и метрики.
// Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	engineMetrics := metrics.NewEngineMetrics()
	deps, err := initRuntimeDependencies(ctx, cfg, logger, engineMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()
	logger.WithField("storage_driver", cfg.StorageDriver).Info("storage initialized")

	if err := applySeed(ctx, cfg.SeedFile, deps, logger); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka, outbox events will be logged only")
	}
	defer closeKafka(producer, logger)

	svc := buildServices(cfg, deps, engineMetrics, logger)

	publisher, dlqPublisher := outboxPublishers(producer, cfg.KafkaDLQTopic, logger)
	outboxOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(dlqPublisher))
	}
	worker := outbox.NewWorker(deps.outbox, publisher, outboxOptions...)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go worker.Run(workersCtx)
	go svc.reaper.Run(workersCtx)

	grpcMetrics := registerGRPCMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(version.Service, healthpb.HealthCheckResponse_SERVING)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, newHealthHandler(cfg, deps))

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{
		Handler:           newHTTPHandler(cfg, deps, svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
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
		logger.WithError(runErr).Error("server failed")
	}

	healthServer.Shutdown()
	stopWorkers()
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
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

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
