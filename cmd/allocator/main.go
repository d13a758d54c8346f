// Command allocator runs the Range Allocator Service (§4.A): the central
// range-vending counter edge minters call to refill their local (next, end)
// blocks. Bootstrap sequence and graceful shutdown follow
// 03-url-shortener/cmd/server/main.go.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/allocator"
	"github.com/kd17290/url-shortener/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.LoadAllocator()
	logger.Info("configuration loaded", "addr", cfg.ServerAddr, "namespace", cfg.Namespace)

	primary := redis.NewClient(&redis.Options{Addr: cfg.PrimaryKVAddr})
	secondary := redis.NewClient(&redis.Options{Addr: cfg.SecondaryKVAddr})
	defer primary.Close()
	defer secondary.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := primary.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to reach primary allocator kv", "error", err)
		os.Exit(1)
	}

	alloc := allocator.New(primary, secondary, cfg.Namespace, logger)
	srv := allocator.NewServer(alloc, logger)

	httpSrv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting allocator server", "addr", cfg.ServerAddr)
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
	logger.Info("allocator stopped gracefully")
}
