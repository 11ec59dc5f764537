package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/part-ledger/internal/adapter/catalog"
	"github.com/rl1809/part-ledger/internal/adapter/handler"
	"github.com/rl1809/part-ledger/internal/adapter/metrics"
	"github.com/rl1809/part-ledger/internal/adapter/storage"
	"github.com/rl1809/part-ledger/internal/config"
	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/core/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ledger store
	store, err := storage.OpenSQLStore(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		fatal(logger, "failed to open store", err)
	}
	if err := store.Migrate(ctx); err != nil {
		fatal(logger, "failed to migrate store", err)
	}
	logger.Info("connected to store", slog.String("driver", store.Dialect().Name))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(reg)),
		service.WithMaxRetries(cfg.MaxRetries),
		service.WithQueueSize(cfg.QueueSize),
	}

	// Initialize Redis, if configured; otherwise locks and idempotency stay in process
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal(logger, "failed to connect redis", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb).WithLockTTL(cfg.Redis.LockTTL)
		opts = append(opts, service.WithLocker(redisAdapter), service.WithIdempotency(redisAdapter))
		logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))
	} else {
		opts = append(opts, service.WithIdempotency(storage.NewLocalIdempotency()))
	}

	if cfg.Catalog != "" {
		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			fatal(logger, "failed to load catalog", err)
		}
		opts = append(opts, service.WithCatalog(cat))
		logger.Info("loaded part catalog", slog.Int("parts", cat.Len()))
	}

	ledger := service.NewLedgerService(store, store, opts...)

	// Start import workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, ledger.GetImportQueue(), ledger, logger)
		}(i)
	}
	logger.Info("started import workers", slog.Int("count", cfg.Workers))

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterLedgerServer(grpcServer, handler.NewGRPCHandler(ledger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fatal(logger, "failed to listen", err)
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", slog.Any("error", err))
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(ledger, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close import queue and wait for workers to drain it
	ledger.Close()
	wg.Wait()
	logger.Info("workers stopped")

	if rdb != nil {
		rdb.Close()
	}
	store.Shutdown()
	logger.Info("connections closed")
}

func workerLoop(id int, queue <-chan domain.Transition, ledger *service.LedgerService, logger *slog.Logger) {
	log := logger.With(slog.Int("worker", id))
	for t := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		result, err := ledger.Apply(ctx, t)
		if err != nil {
			log.Error("import failed", slog.String("request", t.RequestID), slog.Any("error", err))
		} else {
			log.Info("import applied",
				slog.String("request", t.RequestID),
				slog.String("transition", result.ID),
				slog.Int("committed", result.Committed()),
				slog.Int("items", len(result.Items)),
			)
		}

		cancel()
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
