// Package olap is the analytics sink for the Click Ingestion Worker's flush
// step 4: one row per (short_code, delta, event_time) triple, bulk-inserted
// on every flush (§4.D). Table shape and the "insert failure does not
// re-buffer" tolerance are grounded on original_source/services/ingestion-rs/
// src/main.rs's insert_clickhouse_rows/ensure_clickhouse_table, ported here
// onto the ClickHouse Go driver's native Batch API instead of that file's
// raw HTTP INSERT statement (SPEC_FULL §11: clickhouse-go/v2 is an
// out-of-pack pick, named and justified in DESIGN.md).
package olap

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS click_events (
	short_code String,
	delta      Int64,
	event_time DateTime
) ENGINE = MergeTree ORDER BY (short_code, event_time)
`

// ClickRow is one analytic row: a single flush's delta for one short code.
type ClickRow struct {
	ShortCode string
	Delta     int64
	EventTime time.Time
}

type ClickHouse struct {
	conn clickhouse.Conn
}

// Options mirrors the CLICKHOUSE_* env vars carried over from
// original_source's Config.from_env.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

func New(ctx context.Context, opts Options) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	ch := &ClickHouse{conn: conn}
	if err := ch.ensureTable(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *ClickHouse) ensureTable(ctx context.Context) error {
	if err := c.conn.Exec(ctx, createTableDDL); err != nil {
		return fmt.Errorf("ensure click_events table: %w", err)
	}
	return nil
}

// InsertBatch bulk-inserts one row per deltas entry. Deltas maps short_code
// to the accumulated delta for the flush that just completed; eventTime is
// the flush's timestamp, shared across all rows in the batch. A failed
// insert is returned to the caller but is never retried by re-buffering the
// deltas — OLTP is authoritative and OLAP drift is reconciled separately
// (§4.D step 4).
func (c *ClickHouse) InsertBatch(ctx context.Context, deltas map[string]int64, eventTime time.Time) error {
	if len(deltas) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO click_events (short_code, delta, event_time)")
	if err != nil {
		return fmt.Errorf("prepare clickhouse batch: %w", err)
	}

	for code, delta := range deltas {
		if err := batch.Append(code, delta, eventTime); err != nil {
			return fmt.Errorf("append clickhouse row %s: %w", code, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send clickhouse batch: %w", err)
	}
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
