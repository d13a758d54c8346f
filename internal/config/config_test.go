package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kd17290/url-shortener/internal/config"
)

func TestLoadEdge_Defaults(t *testing.T) {
	e := config.LoadEdge()
	assert.Equal(t, ":8080", e.ServerAddr)
	assert.Equal(t, "nats://127.0.0.1:4222", e.NATSURL)
	assert.Equal(t, int64(1000), e.MinterBlockSize)
}

func TestLoadEdge_ReadsEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("MINTER_BLOCK_SIZE", "5000")

	e := config.LoadEdge()
	assert.Equal(t, ":9999", e.ServerAddr)
	assert.Equal(t, int64(5000), e.MinterBlockSize)
}

func TestLoadEdge_ReplicaDefaultsToPrimary(t *testing.T) {
	t.Setenv("REDIS_PRIMARY_ADDR", "primary.example.com:6379")

	e := config.LoadEdge()
	assert.Equal(t, "primary.example.com:6379", e.RedisPrimary)
	assert.Equal(t, "primary.example.com:6379", e.RedisReplica)
}

func TestLoadEdge_ReplicaOverridesIndependently(t *testing.T) {
	t.Setenv("REDIS_PRIMARY_ADDR", "primary.example.com:6379")
	t.Setenv("REDIS_REPLICA_ADDR", "replica.example.com:6379")

	e := config.LoadEdge()
	assert.Equal(t, "replica.example.com:6379", e.RedisReplica)
}

func TestLoadAllocator_Defaults(t *testing.T) {
	a := config.LoadAllocator()
	assert.Equal(t, ":9090", a.ServerAddr)
	assert.Equal(t, "short_code", a.Namespace)
}

func TestLoadWorker_FallsBackToHostnameWhenIdentityUnset(t *testing.T) {
	w := config.LoadWorker()
	assert.NotEmpty(t, w.WorkerIdentity)
}

func TestLoadWorker_UsesExplicitIdentity(t *testing.T) {
	t.Setenv("INGESTION_CONSUMER_NAME", "worker-explicit-1")

	w := config.LoadWorker()
	assert.Equal(t, "worker-explicit-1", w.WorkerIdentity)
}

func TestLoadWorker_ParsesDurationAndIntOverrides(t *testing.T) {
	t.Setenv("INGESTION_FLUSH_INTERVAL", "15s")
	t.Setenv("INGESTION_BATCH_SIZE", "250")
	t.Setenv("INGESTION_WORKER_SLOTS", "32")

	w := config.LoadWorker()
	assert.Equal(t, 15*time.Second, w.FlushInterval)
	assert.Equal(t, 250, w.FlushSizeThreshold)
	assert.Equal(t, 32, w.WorkerSlotCount)
}

func TestLoadWorker_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("INGESTION_FLUSH_INTERVAL", "not-a-duration")

	w := config.LoadWorker()
	assert.Equal(t, 5*time.Second, w.FlushInterval)
}

func TestLoadWarmer_Defaults(t *testing.T) {
	w := config.LoadWarmer()
	assert.Equal(t, 30*time.Second, w.Interval)
	assert.Equal(t, 5000, w.TopN)
}
