// Package broker publishes click events onto a partitioned durable stream
// (§4.C step 5, §4.D) and lets the ingestion worker join a queue-group
// consumer to receive a fair share of that stream's partitions. Reference
// deployment realizes the abstract partitioned broker with NATS JetStream:
// no Kafka client exists anywhere in the retrieved corpus, and JetStream's
// QueueSubscribe + Durable consumer gives the same partitioned-consumer-group
// semantics the spec describes (SPEC_FULL §6). When a publish attempt fails
// (broker down or unreachable), the event is diverted to a Redis Stream so no
// click is silently dropped (§4.D "fallback KV stream").
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/metrics"
	"github.com/kd17290/url-shortener/internal/shortener"
)

const (
	StreamName    = "CLICK_EVENTS"
	subjectPrefix = "click.events."

	FallbackStreamKey   = "click_fallback_stream"
	fallbackConsumerGrp = "ingestion_fallback"

	// fallbackStreamMaxLen bounds the fallback stream so a prolonged broker
	// outage can't grow it without limit. Enforced approximately on every
	// XAdd (cheap, no full stream scan) and exactly by a periodic XTRIM the
	// ingestion worker runs on its own ticker, so the cap holds even if
	// acks fall behind (SPEC_FULL §9 "fallback stream trim policy").
	fallbackStreamMaxLen = 100_000
)

// ClickEvent is the wire payload published for every recorded click.
type ClickEvent struct {
	ShortCode string    `json:"short_code"`
	Delta     int64     `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

func subject(shortCode string) string { return subjectPrefix + shortCode }

// Publisher publishes click events to JetStream, falling back to a Redis
// Stream when JetStream is unreachable. It implements shortener.Publisher.
type Publisher struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	fallback *redis.Client
	logger   *slog.Logger
}

// NewPublisher connects to NATS, opens a JetStream context, and idempotently
// ensures the CLICK_EVENTS stream exists (create-or-update, matching the
// teacher's initStream pattern).
func NewPublisher(natsURL string, fallback *redis.Client, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(
		natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js, fallback: fallback, logger: logger}
	if err := p.initStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init click events stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) initStream() error {
	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		Replicas: 1,
	}

	_, err := p.js.StreamInfo(StreamName)
	if err == nats.ErrStreamNotFound {
		_, err = p.js.AddStream(cfg)
		return err
	}
	if err != nil {
		return err
	}
	_, err = p.js.UpdateStream(cfg)
	return err
}

// Publish satisfies shortener.Publisher. It ships one ClickEvent per call, on
// the subject click.events.<short_code>, and waits for the broker's ack
// (at-least-once, matching §4.C's "durable, at-least-once delivery"). A
// broker publish failure is not surfaced to the caller: the event is diverted
// to the fallback stream instead. An error is returned only when that
// fallback write fails as well.
func (p *Publisher) Publish(ctx context.Context, shortCode string, delta int64) error {
	evt := ClickEvent{ShortCode: shortCode, Delta: delta, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode click event: %w", err)
	}

	_, pubErr := p.js.Publish(subject(shortCode), data, nats.Context(ctx))
	if pubErr == nil {
		metrics.EdgeBrokerPublishTotal.WithLabelValues("ok").Inc()
		return nil
	}

	metrics.EdgeBrokerPublishTotal.WithLabelValues("error").Inc()
	p.logger.Warn("jetstream publish failed, diverting to fallback stream", "short_code", shortCode, "error", pubErr)
	if err := p.publishFallback(ctx, data); err != nil {
		return fmt.Errorf("publish click event (broker: %v, fallback: %w)", pubErr, err)
	}
	metrics.EdgeStreamFallbackTotal.Inc()
	return nil
}

func (p *Publisher) publishFallback(ctx context.Context, data []byte) error {
	return p.fallback.XAdd(ctx, &redis.XAddArgs{
		Stream: FallbackStreamKey,
		MaxLen: fallbackStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": data},
	}).Err()
}

// Close releases the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// QueueSubscribe joins the named durable queue group on the CLICK_EVENTS
// stream, giving the caller a fair share of the stream's messages (§4.D
// "partitioned consumer group"). Messages must be Ack'd by handler.
func (p *Publisher) QueueSubscribe(queueGroup, consumerName string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return p.js.QueueSubscribe(
		subjectPrefix+"*",
		queueGroup,
		handler,
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(-1),
	)
}

// DrainFallback reads up to count fallback events (published while the
// broker was unreachable) that have not yet been delivered to any consumer
// of group fallbackConsumerGrp (XREADGROUP with ">"), so multiple ingestion
// workers can drain concurrently without double-processing. It creates the
// group on first use.
func DrainFallback(ctx context.Context, rdb *redis.Client, consumerName string, count int64) ([]redis.XStream, error) {
	err := rdb.XGroupCreateMkStream(ctx, FallbackStreamKey, fallbackConsumerGrp, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("ensure fallback consumer group: %w", err)
	}

	streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    fallbackConsumerGrp,
		Consumer: consumerName,
		Streams:  []string{FallbackStreamKey, ">"},
		Count:    count,
		Block:    time.Second,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read fallback stream: %w", err)
	}
	return streams, nil
}

// AckFallback acknowledges a drained fallback entry so it is not redelivered.
func AckFallback(ctx context.Context, rdb *redis.Client, messageID string) error {
	return rdb.XAck(ctx, FallbackStreamKey, fallbackConsumerGrp, messageID).Err()
}

// TrimFallback exactly trims the fallback stream down to fallbackStreamMaxLen.
// XAdd's own MAXLEN ~ N is approximate and only fires on writes; this makes
// the cap hold even during a lull where nothing is being added but a prior
// burst left the stream oversized.
func TrimFallback(ctx context.Context, rdb *redis.Client) error {
	return rdb.XTrimMaxLen(ctx, FallbackStreamKey, fallbackStreamMaxLen).Err()
}

// FallbackBacklog reports how many fallback-stream entries this worker's
// consumer group has not yet acked, for the ingestion backlog gauge.
func FallbackBacklog(ctx context.Context, rdb *redis.Client) (int64, error) {
	pending, err := rdb.XPending(ctx, FallbackStreamKey, fallbackConsumerGrp).Result()
	if err != nil {
		if err == redis.Nil || isNoGroupErr(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("check fallback backlog: %w", err)
	}
	return pending.Count, nil
}

func isNoGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP ")
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

var _ shortener.Publisher = (*Publisher)(nil)
