// Package ingestion implements the Click Ingestion Worker (§4.D): a
// partitioned consumer that aggregates click deltas in a shared KV hash and
// flushes batched updates to OLTP, cache, and OLAP on a time/size trigger.
// Loop shape and the read-and-clear HGETALL+DEL flush protocol are grounded
// on original_source/services/ingestion/ingestion_service.py's
// process_click_buffer/run_continuous_ingestion, adapted onto NATS
// JetStream's QueueSubscribe consumer group instead of that file's Redis
// SCAN-based polling.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/broker"
	"github.com/kd17290/url-shortener/internal/metrics"
	"github.com/kd17290/url-shortener/internal/shortener"
)

const (
	defaultFlushInterval      = 5 * time.Second
	defaultFlushSizeThreshold = 1000
	fallbackDrainInterval     = 2 * time.Second
	fallbackDrainBatchSize    = 200
	fallbackTrimInterval      = time.Minute
	staleBufferSweepInterval  = 5 * time.Minute
	staleBufferMaxAge         = 300 * time.Second
	clickBufferKeyPattern     = "click_buffer:*"
	aggKeyPrefix              = "agg:"
	fallbackStreamKey         = broker.FallbackStreamKey
)

// Config parameterizes a Worker's flush cadence, mirroring
// INGESTION_FLUSH_INTERVAL_SECONDS / INGESTION_BATCH_SIZE from
// original_source's Config.from_env.
type Config struct {
	WorkerID           string
	FlushInterval      time.Duration
	FlushSizeThreshold int
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushSizeThreshold <= 0 {
		c.FlushSizeThreshold = defaultFlushSizeThreshold
	}
	return c
}

// Worker consumes click events for one partitioned share of the broker's
// CLICK_EVENTS stream, aggregates them into agg:<worker_id>, and flushes to
// the three downstream sinks on a time/size trigger.
type Worker struct {
	cfg    Config
	rdb    *redis.Client
	store  Store
	cache  Cache
	olap   OLAP
	pub    *broker.Publisher
	logger *slog.Logger

	mu          sync.Mutex
	local       map[string]int64
	pendingAcks []*nats.Msg

	flushMu sync.Mutex
}

func NewWorker(cfg Config, rdb *redis.Client, store Store, cache Cache, olap OLAP, pub *broker.Publisher, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:    cfg.withDefaults(),
		rdb:    rdb,
		store:  store,
		cache:  cache,
		olap:   olap,
		pub:    pub,
		logger: logger,
		local:  make(map[string]int64),
	}
}

func (w *Worker) aggKey() string { return aggKeyPrefix + w.cfg.WorkerID }

// Run blocks until ctx is cancelled, driving the QueueSubscribe consumer
// plus the flush timer, fallback-stream drain, and stale-buffer sweep on
// their own tickers (§4.D "Loop" / "Fallback-stream drain").
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.pub.QueueSubscribe("click_ingestion", w.cfg.WorkerID, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe click events: %w", err)
	}
	defer sub.Unsubscribe()

	flushTicker := time.NewTicker(w.cfg.FlushInterval)
	defer flushTicker.Stop()
	fallbackTicker := time.NewTicker(fallbackDrainInterval)
	defer fallbackTicker.Stop()
	sweepTicker := time.NewTicker(staleBufferSweepInterval)
	defer sweepTicker.Stop()
	trimTicker := time.NewTicker(fallbackTrimInterval)
	defer trimTicker.Stop()

	w.logger.Info("ingestion worker started", "worker_id", w.cfg.WorkerID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushTicker.C:
			if err := w.maybeFlush(ctx, true); err != nil {
				w.logger.Error("flush failed", "error", err)
			}
		case <-fallbackTicker.C:
			if err := w.drainFallback(ctx); err != nil {
				w.logger.Error("fallback drain failed", "error", err)
			}
		case <-sweepTicker.C:
			if n, err := w.SweepStaleBuffers(ctx); err != nil {
				w.logger.Error("stale buffer sweep failed", "error", err)
			} else if n > 0 {
				w.logger.Info("swept stale buffers", "count", n)
			}
		case <-trimTicker.C:
			if err := broker.TrimFallback(ctx, w.rdb); err != nil {
				w.logger.Error("fallback stream trim failed", "error", err)
			}
		}
	}
}

// handleMessage validates and aggregates one broker message, then applies
// the growing local map to the shared KV hash and flushes if the size
// threshold has been crossed (§4.D loop steps 2-5). The message is not
// acked here: acking only tells NATS to stop redelivering, and a delta
// that's been counted only in the in-memory local map is not yet durable
// anywhere, so an ack here would open a wider crash-loses-a-click window
// than the "crash after DEL but before OLTP update" one this pipeline
// already accepts. applyLocalToKV batch-acks once the delta actually lands
// in agg:<worker_id>.
func (w *Worker) handleMessage(msg *nats.Msg) {
	ctx := context.Background()

	var evt broker.ClickEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		w.logger.Warn("dropping malformed click event", "error", err)
		_ = msg.Ack()
		return
	}

	w.mu.Lock()
	w.local[evt.ShortCode] += evt.Delta
	w.pendingAcks = append(w.pendingAcks, msg)
	shouldApply := len(w.local) >= w.cfg.FlushSizeThreshold
	w.mu.Unlock()

	if shouldApply {
		if err := w.applyLocalToKV(ctx); err != nil {
			w.logger.Error("apply local aggregate to kv failed", "error", err)
			return
		}
		if err := w.maybeFlush(ctx, false); err != nil {
			w.logger.Error("size-triggered flush failed", "error", err)
		}
	}
}

// applyLocalToKV pipelines the in-memory per-iteration map into the shared
// agg:<worker_id> hash with a single HINCRBY per code, then clears the local
// map (§4.D loop step 4). Only once the pipeline succeeds — the deltas are
// durable in the shared hash — does it ack the NATS messages that
// contributed to this batch; a failed pipeline leaves them unacked so NATS
// redelivers and the deltas get re-counted from the source of truth instead
// of being silently lost.
func (w *Worker) applyLocalToKV(ctx context.Context) error {
	w.mu.Lock()
	if len(w.local) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.local
	pending := w.pendingAcks
	w.local = make(map[string]int64)
	w.pendingAcks = nil
	w.mu.Unlock()

	pipe := w.rdb.Pipeline()
	for code, delta := range batch {
		pipe.HIncrBy(ctx, w.aggKey(), code, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline agg hash increments: %w", err)
	}

	for _, msg := range pending {
		if err := msg.Ack(); err != nil {
			w.logger.Warn("ack failed", "error", err)
		}
	}
	return nil
}

// maybeFlush flushes when forced (the ticker path) or, when not forced, only
// if the shared hash holds at least FlushSizeThreshold codes, which it
// checks here with HLEN after applying the local map.
func (w *Worker) maybeFlush(ctx context.Context, force bool) error {
	if err := w.applyLocalToKV(ctx); err != nil {
		return err
	}

	if !force {
		size, err := w.rdb.HLen(ctx, w.aggKey()).Result()
		if err != nil {
			return fmt.Errorf("check agg hash size: %w", err)
		}
		if size < int64(w.cfg.FlushSizeThreshold) {
			return nil
		}
	}

	return w.Flush(ctx)
}

// Flush performs the read-and-clear-then-apply protocol: HGETALL+DEL the
// shared hash, batch the deltas into OLTP, write updated rows back to
// cache, and bulk-insert analytic rows into OLAP (§4.D "Flush protocol").
// An OLAP insert failure is logged but does not fail the flush or re-buffer
// the deltas — OLTP is authoritative (§4.D step 4).
//
// Flush is reachable concurrently from Run's flush ticker and from
// handleMessage's size-threshold trigger (a NATS dispatch goroutine), so
// flushMu serializes actual flush work: without it, two overlapping calls
// could each read the same agg:<worker_id> snapshot before either cleared
// it and double-apply the same deltas to OLTP and OLAP. A flush that loses
// the race sees an already-emptied hash and returns via the empty-deltas
// branch below.
func (w *Worker) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	start := time.Now()
	flushID := uuid.NewString()
	log := w.logger.With("flush_id", flushID)

	deltas, err := w.readAndClear(ctx)
	if err != nil {
		metrics.IngestionFlushTotal.WithLabelValues("error").Inc()
		return err
	}
	if len(deltas) == 0 {
		metrics.IngestionFlushTotal.WithLabelValues("empty").Inc()
		return nil
	}

	if err := w.store.ApplyClickDeltas(ctx, deltas); err != nil {
		metrics.IngestionFlushTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("apply click deltas: %w", err)
	}

	w.writeBackCache(ctx, deltas)

	if err := w.olap.InsertBatch(ctx, deltas, start); err != nil {
		log.Error("olap insert failed, not re-buffering", "error", err)
	}

	metrics.IngestionFlushTotal.WithLabelValues("ok").Inc()
	metrics.IngestionFlushDurationSeconds.Observe(time.Since(start).Seconds())
	log.Info("flush complete", "codes", len(deltas), "elapsed", time.Since(start))
	return nil
}

// readAndClear atomically reads and empties the agg:<worker_id> hash by
// wrapping HGETALL and DEL in a single MULTI/EXEC transaction, so no other
// client can observe or mutate the hash between the read and the clear.
func (w *Worker) readAndClear(ctx context.Context) (map[string]int64, error) {
	var getCmd *redis.MapStringStringCmd
	_, err := w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.HGetAll(ctx, w.aggKey())
		pipe.Del(ctx, w.aggKey())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read-and-clear agg hash: %w", err)
	}

	raw, err := getCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("read-and-clear agg hash: %w", err)
	}
	metrics.IngestionLagRecords.Set(float64(len(raw)))
	if len(raw) == 0 {
		return nil, nil
	}

	deltas := make(map[string]int64, len(raw))
	for code, val := range raw {
		var delta int64
		if _, err := fmt.Sscanf(val, "%d", &delta); err != nil {
			w.logger.Warn("skipping unparseable agg value", "short_code", code, "value", val)
			continue
		}
		deltas[code] = delta
	}
	return deltas, nil
}

// writeBackCache refreshes each affected code's cache entry with its fresh
// click count rather than invalidating it (§4.D flush step 3). A read
// failure for one code is logged and skipped; the next redirect will
// self-heal via the normal cache-miss path.
func (w *Worker) writeBackCache(ctx context.Context, deltas map[string]int64) {
	urls := make([]*shortener.URL, 0, len(deltas))
	for code := range deltas {
		u, err := w.store.Get(ctx, code)
		if err != nil {
			w.logger.Warn("cache write-back read failed", "short_code", code, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return
	}

	if err := w.cache.SetBatch(ctx, urls); err != nil {
		w.logger.Warn("cache write-back batch set failed", "error", err)
	}
}

// drainFallback reads pending records from the Redis Stream fallback
// channel, aggregates them the same way broker messages are, and acks each
// on success (§4.D "Fallback-stream drain").
func (w *Worker) drainFallback(ctx context.Context) error {
	streams, err := broker.DrainFallback(ctx, w.rdb, w.cfg.WorkerID, fallbackDrainBatchSize)
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["event"].(string)
			if !ok {
				w.logger.Warn("fallback record missing event field", "id", msg.ID)
				continue
			}

			var evt broker.ClickEvent
			if err := json.Unmarshal([]byte(raw), &evt); err != nil {
				w.logger.Warn("dropping malformed fallback event", "id", msg.ID, "error", err)
				continue
			}

			w.mu.Lock()
			w.local[evt.ShortCode] += evt.Delta
			w.mu.Unlock()

			if err := broker.AckFallback(ctx, w.rdb, msg.ID); err != nil {
				w.logger.Warn("fallback ack failed", "id", msg.ID, "error", err)
			}
		}
	}

	if backlog, err := broker.FallbackBacklog(ctx, w.rdb); err != nil {
		w.logger.Warn("fallback backlog check failed", "error", err)
	} else {
		metrics.IngestionActiveAggregations.Set(float64(backlog))
	}

	return w.applyLocalToKV(ctx)
}

// SweepStaleBuffers deletes click_buffer:<code> keys that were created
// without a TTL or whose TTL has grown implausibly long, guarding against a
// worker that crashed mid-cycle and left an orphaned buffer. Grounded on
// original_source/services/ingestion/ingestion_service.py's
// cleanup_old_buffers; this is operational hygiene and does not touch
// agg:<worker_id> or change §4.D's flush semantics.
func (w *Worker) SweepStaleBuffers(ctx context.Context) (int, error) {
	keys, err := w.rdb.Keys(ctx, clickBufferKeyPattern).Result()
	if err != nil {
		return 0, fmt.Errorf("scan click buffer keys: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		ttl, err := w.rdb.TTL(ctx, key).Result()
		if err != nil {
			w.logger.Warn("ttl check failed during sweep", "key", key, "error", err)
			continue
		}
		if ttl == -1 || ttl > staleBufferMaxAge {
			if err := w.rdb.Del(ctx, key).Err(); err != nil {
				w.logger.Warn("delete stale buffer failed", "key", key, "error", err)
				continue
			}
			cleaned++
		}
	}

	metrics.IngestionActiveBuffers.Set(float64(len(keys) - cleaned))
	return cleaned, nil
}
