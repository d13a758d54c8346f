// Command worker runs the Click Ingestion Worker (§4.D): the partitioned
// consumer group that aggregates click deltas and flushes them to OLTP,
// cache, and OLAP. Bootstrap sequence follows the other cmd/ binaries;
// the /metrics endpoint follows original_source/services/ingestion-rs/src/
// main.rs's axum metrics server, adapted onto net/http + promhttp.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/broker"
	"github.com/kd17290/url-shortener/internal/cache"
	"github.com/kd17290/url-shortener/internal/config"
	"github.com/kd17290/url-shortener/internal/ingestion"
	"github.com/kd17290/url-shortener/internal/olap"
	"github.com/kd17290/url-shortener/internal/urlstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.LoadWorker()
	workerID := ingestion.AssignWorkerID(cfg.WorkerIdentity, cfg.WorkerSlotCount)
	logger.Info("configuration loaded", "worker_identity", cfg.WorkerIdentity, "worker_id", workerID)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := urlstore.NewPostgres(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	urlCache := cache.New(rdb, rdb)

	chCtx, chCancel := context.WithTimeout(context.Background(), 10*time.Second)
	ch, err := olap.New(chCtx, olap.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUsername,
		Password: cfg.ClickHousePassword,
	})
	chCancel()
	if err != nil {
		logger.Error("failed to connect to clickhouse", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	pub, err := broker.NewPublisher(cfg.NATSURL, rdb, logger)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	worker := ingestion.NewWorker(ingestion.Config{
		WorkerID:           workerID,
		FlushInterval:      cfg.FlushInterval,
		FlushSizeThreshold: cfg.FlushSizeThreshold,
	}, rdb, store, urlCache, ch, pub, logger)

	ctx, cancel := context.WithCancel(context.Background())

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("starting worker metrics server", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("worker loop exited with error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", "error", err)
	}
	logger.Info("worker stopped gracefully")
}
