package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/cart"
	"github.com/fjod/go_shop/internal/config"
	"github.com/fjod/go_shop/internal/gateway"
	shophttp "github.com/fjod/go_shop/internal/http"
	"github.com/fjod/go_shop/internal/inventory"
	"github.com/fjod/go_shop/internal/notify"
	"github.com/fjod/go_shop/internal/order"
	"github.com/fjod/go_shop/internal/repository"
	"github.com/fjod/go_shop/internal/settlement"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/fjod/go_shop/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const healthInterval = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			zap.ReplaceGlobals(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("shop starting", zap.String("version", Version))

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return err
	}

	cred := credentials(cfg)
	repo, err := repository.NewRepository(cred, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(cred); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	var cartCache cache.CartCache = cache.NewRedisCache(rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, cart cache disabled", zap.Error(err))
		cartCache = cache.Noop{}
	}

	var sink notify.Sink = notify.LogSink{Log: log}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.NotifyTopic, brokers...)
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	carts := cart.NewService(cart.NewPostgresStore(repo), cartCache, log)
	ledger := inventory.NewLedger(inventory.NewPostgresStore(repo), log)
	razorpay := gateway.NewRazorpay(gateway.Config{
		BaseURL:   cfg.RazorpayBaseURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	}, log)
	coordinator := settlement.NewCoordinator(
		settlement.NewPostgresStore(repo),
		razorpay,
		ledger,
		notify.NewNotifier(sink, cfg.NotifyTimeout, log),
		carts,
		cfg.Currency,
		log,
	)
	orders := order.NewService(order.NewPostgresStore(repo), coordinator, log)

	router := shophttp.NewRouter(shophttp.RouterConfig{
		Orders:         orders,
		Payments:       coordinator,
		Carts:          carts,
		Stock:          ledger,
		DB:             repo,
		Validator:      auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer),
		RequestTimeout: cfg.RequestTimeout,
		Log:            log,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "shop"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchHealth(ctx, repo, healthServer, log)
	}()

	go func() {
		log.Info("grpc listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		log.Info("http listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	healthServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("health watcher did not stop in time")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown", zap.Error(err))
	}
	log.Info("shop stopped")
	return runErr
}

// watchHealth reports SERVING while the database answers pings.
func watchHealth(ctx context.Context, db shophttp.Pinger, hs *health.Server, log *zap.Logger) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.Ping(pingCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			logger.WithTrace(ctx, log).Info("health changed",
				zap.String("status", status.String()), zap.Error(err))
			last = status
		}
		hs.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
