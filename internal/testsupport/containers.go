// Package testsupport provides shared testcontainers-go fixtures for
// integration tests, adapted from
// 01-counter-service/internal/testutils/containers.go. Migrations run
// through the embedded-FS migrator in internal/migrations instead of the
// teacher's file-based golang-migrate source.
package testsupport

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kd17290/url-shortener/internal/migrations"
)

// Environment bundles a Postgres pool and a Redis client backed by
// throwaway containers, torn down automatically via t.Cleanup.
type Environment struct {
	RedisClient  *redis.Client
	PostgresPool *pgxpool.Pool
	PostgresDSN  string
	RedisAddr    string
	Logger       *slog.Logger

	redisContainer tc.Container
	pgContainer    tc.Container
}

// SetupEnvironment starts Postgres and Redis containers, applies the
// project's migrations, and registers cleanup on t.
func SetupEnvironment(t testing.TB) *Environment {
	t.Helper()

	ctx := context.Background()
	env := &Environment{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	env.setupPostgres(t, ctx)
	env.setupRedis(t, ctx)

	t.Cleanup(env.Cleanup)

	return env
}

func (env *Environment) setupPostgres(t testing.TB, ctx context.Context) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("urlshortener_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tcpostgres.WithSQLDriver("pgx"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.pgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	migrator, err := migrations.New(dsn, env.Logger)
	if err != nil {
		t.Fatalf("failed to build migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	if err := migrator.Close(); err != nil {
		t.Fatalf("failed to close migrator: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	env.PostgresPool = pool
}

func (env *Environment) setupRedis(t testing.TB, ctx context.Context) {
	t.Helper()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.redisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// Cleanup tears down containers and clients. Safe to call directly; also
// registered automatically via t.Cleanup by SetupEnvironment.
func (env *Environment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}
	if env.redisContainer != nil {
		_ = env.redisContainer.Terminate(ctx)
	}
	if env.pgContainer != nil {
		_ = env.pgContainer.Terminate(ctx)
	}
}

// TruncateURLs clears the urls table between test cases.
func (env *Environment) TruncateURLs(t testing.TB) {
	t.Helper()
	if _, err := env.PostgresPool.Exec(context.Background(), "TRUNCATE TABLE urls"); err != nil {
		t.Fatalf("failed to truncate urls table: %v", err)
	}
}

// FlushRedis clears all keys between test cases.
func (env *Environment) FlushRedis(t testing.TB) {
	t.Helper()
	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}
