// Command warmer runs the Cache Warmer (§4.E): a periodic job that
// pre-populates cache with the current top-N most-clicked URLs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/cache"
	"github.com/kd17290/url-shortener/internal/config"
	"github.com/kd17290/url-shortener/internal/urlstore"
	"github.com/kd17290/url-shortener/internal/warmer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.LoadWarmer()
	logger.Info("configuration loaded", "interval", cfg.Interval, "top_n", cfg.TopN)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := urlstore.NewPostgres(pool)

	primary := redis.NewClient(&redis.Options{Addr: cfg.RedisPrimary})
	replica := redis.NewClient(&redis.Options{Addr: cfg.RedisReplica})
	defer primary.Close()
	defer replica.Close()
	urlCache := cache.New(primary, replica)

	w := warmer.New(store, urlCache, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()
	logger.Info("warmer stopped gracefully")
}
