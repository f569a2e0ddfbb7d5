package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/inventory-ledger/internal/adapter/handler"
	"github.com/rl1809/inventory-ledger/internal/adapter/ledger"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/config"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/port"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg := logger.New(&cfg.Log)
	slog.SetDefault(lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize local store
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		lg.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	lg.Info("store ready", "driver", cfg.Store.Driver)

	// Initialize idempotency cache
	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.Redis.Enable {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Error("failed to connect redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		cache = storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		lg.Info("connected to redis", "addr", cfg.Redis.Addr)
	} else {
		cache = storage.NewMemoryCache(cfg.Redis.IdempotencyTTL)
	}

	// Initialize ledger gateway
	gw := ledger.NewGateway(ledger.Config{
		RPCURL:             cfg.Ledger.RPCURL,
		CallTimeout:        cfg.Ledger.CallTimeout,
		RPS:                cfg.Ledger.RPS,
		Burst:              cfg.Ledger.Burst,
		DeployPollAttempts: cfg.Ledger.DeployPollAttempts,
		DeployPollInterval: cfg.Ledger.DeployPollInterval,
	}, lg)
	if gw.CheckConnectivity(ctx) {
		lg.Info("ledger node reachable", "url", cfg.Ledger.RPCURL)
	} else {
		lg.Warn("ledger node unreachable, recording offline", "url", cfg.Ledger.RPCURL)
	}

	// Initialize services
	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		Workers:     cfg.Sync.Workers,
		QueueSize:   cfg.Sync.QueueSize,
		TaskTimeout: cfg.Sync.TaskTimeout,
	}, lg)
	coord := service.NewCoordinator(store, gw, dispatcher,
		service.WithCache(cache),
		service.WithLogger(lg),
	)
	products := service.NewProductService(store, coord, lg)

	go coord.Run(ctx, cfg.Sync.Interval)
	lg.Info("started sync dispatcher", "workers", cfg.Sync.Workers, "interval", cfg.Sync.Interval)

	// Initialize gRPC server
	var (
		grpcServer  *grpc.Server
		grpcHandler *handler.GRPCHandler
	)
	if cfg.GRPC.Enable {
		grpcServer = grpc.NewServer()
		grpcHandler = handler.NewGRPCHandler(coord, gw, lg)
		grpcHandler.Register(grpcServer)
		go grpcHandler.WatchLedger(ctx, 10*time.Second)

		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			lg.Error("failed to listen", "addr", cfg.GRPC.Addr, "error", err)
			os.Exit(1)
		}
		go func() {
			lg.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				lg.Error("gRPC server error", "error", err)
			}
		}()
	}

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewHTTPHandler(coord, products, lg).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		lg.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			lg.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("HTTP shutdown", "error", err)
	}
	lg.Info("HTTP server stopped")

	if grpcServer != nil {
		stopGRPC(grpcHandler, grpcServer)
		lg.Info("gRPC server stopped")
	}

	// Drain in-flight ledger submissions; unsent records stay PENDING
	coord.Close()
	lg.Info("dispatcher stopped")

	if rdb != nil {
		rdb.Close()
	}
	lg.Info("connections closed")
}

// stopGRPC reports NOT_SERVING to health checkers before draining in-flight
// calls.
func stopGRPC(h *handler.GRPCHandler, s *grpc.Server) {
	h.Shutdown()
	s.GracefulStop()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (port.LocalStore, func(), error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	db, err := storage.Open(ctx, storage.Dialect(cfg.Driver), cfg.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, func() { db.Close() }, nil
}
