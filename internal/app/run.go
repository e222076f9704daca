package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/notify"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/observability"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const shutdownTimeout = 5 * time.Second

// Run boots the HTTP and gRPC servers and blocks until ctx ends or a server fails.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	persistence, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer persistence.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := dispatcher.Close(closeCtx); closeErr != nil {
			logger.Warn("event dispatcher close", zap.Error(closeErr))
		}
	}()
	if err := observability.RegisterDeliveryStats(registry, dispatcher); err != nil {
		return fmt.Errorf("register delivery stats: %w", err)
	}

	services, err := newServices(cfg, persistence, logger, registry, dispatcher)
	if err != nil {
		return err
	}

	authenticator, err := httpapi.NewAuthenticator([]byte(cfg.JWTSigningKey), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		RetryPolicy:    ledger.DefaultRetryPolicy(),
	}, httpapi.Dependencies{
		Logger:        logger,
		Ledger:        services.ledger,
		Orders:        services.orders,
		Reports:       services.reports,
		Authenticator: authenticator,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterLedgerServiceServer(grpcServer, grpcserver.NewServer(services.ledger, services.orders, services.reports, ledger.DefaultRetryPolicy()))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
		if serveErr := httpServer.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", serveErr)
		}
	}()
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", serveErr)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown error", zap.Error(shutdownErr))
	}
	grpcServer.GracefulStop()
	return runErr
}

type serviceSet struct {
	ledger  *ledger.Service
	orders  *orders.Service
	reports *reporting.Service
}

func newServices(cfg Config, persistence *stores, logger *zap.Logger, registerer prometheus.Registerer, publisher ledger.EventPublisher) (*serviceSet, error) {
	recorder, err := observability.NewOperationRecorder(logger, registerer)
	if err != nil {
		return nil, fmt.Errorf("operation recorder: %w", err)
	}
	ids, err := ledger.NewSnowflakeIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	clock := func() time.Time { return time.Now().UTC() }

	ledgerService, err := ledger.NewService(persistence.ledger, clock,
		ledger.WithIDGenerator(ids),
		ledger.WithOperationLogger(recorder),
		ledger.WithEventPublisher(publisher),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	orderOptions := []orders.ServiceOption{
		orders.WithOperationLogger(recorder),
		orders.WithEventPublisher(publisher),
	}
	if cfg.CancelIsFinal {
		orderOptions = append(orderOptions, orders.WithoutRefundAfterCancel())
	}
	orderService, err := orders.NewService(persistence.orders, ledgerService, clock, orderOptions...)
	if err != nil {
		return nil, fmt.Errorf("order service init: %w", err)
	}
	reports, err := reporting.NewService(persistence.reports)
	if err != nil {
		return nil, fmt.Errorf("reporting service init: %w", err)
	}
	return &serviceSet{ledger: ledgerService, orders: orderService, reports: reports}, nil
}

func newDispatcher(cfg Config, logger *zap.Logger) (*notify.AsyncDispatcher, error) {
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.Producer)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	if cfg.RedisAddr != "" {
		redisSink, err := notify.NewRedisSink(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisChannel, cfg.Producer)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		sinks = append(sinks, redisSink)
	}
	return notify.NewAsyncDispatcher(logger, sinks, notify.WithQueueSize(cfg.EventQueueSize)), nil
}
