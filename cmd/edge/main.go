// Command edge runs the shorten/redirect/stats HTTP surface (§4.B, §4.C):
// the process a load balancer fans requests out across. Bootstrap sequence
// and graceful shutdown follow 03-url-shortener/cmd/server/main.go.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/broker"
	"github.com/kd17290/url-shortener/internal/cache"
	"github.com/kd17290/url-shortener/internal/config"
	"github.com/kd17290/url-shortener/internal/migrations"
	"github.com/kd17290/url-shortener/internal/minter"
	"github.com/kd17290/url-shortener/internal/shortener"
	"github.com/kd17290/url-shortener/internal/urlstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.LoadEdge()
	logger.Info("configuration loaded", "addr", cfg.ServerAddr)

	migrator, err := migrations.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to build migrator", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("migrator close error", "error", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := urlstore.NewPostgres(pool)

	primaryRedis := redis.NewClient(&redis.Options{Addr: cfg.RedisPrimary})
	replicaRedis := redis.NewClient(&redis.Options{Addr: cfg.RedisReplica})
	defer primaryRedis.Close()
	defer replicaRedis.Close()
	urlCache := cache.New(primaryRedis, replicaRedis)

	fallbackRedis := redis.NewClient(&redis.Options{Addr: cfg.RedisSecondary})
	defer fallbackRedis.Close()

	pub, err := broker.NewPublisher(cfg.NATSURL, fallbackRedis, logger)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	allocatorClient := minter.NewHTTPAllocatorClient(cfg.AllocatorURL)
	m := minter.New(allocatorClient, cfg.MinterBlockSize, logger)

	handler := shortener.New(store, urlCache, pub, m, logger)
	srv := shortener.NewServer(handler)

	httpSrv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting edge server", "addr", cfg.ServerAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("edge stopped gracefully")
}
