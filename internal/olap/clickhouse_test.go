package olap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kd17290/url-shortener/internal/olap"
)

// InsertBatch's empty-deltas guard runs before touching the underlying
// connection, so it's the only path exercisable without a live ClickHouse
// server (see DESIGN.md for why the rest of this package isn't unit tested).
func TestInsertBatch_EmptyDeltasIsNoop(t *testing.T) {
	ch := &olap.ClickHouse{}
	err := ch.InsertBatch(context.Background(), map[string]int64{}, time.Now())
	assert.NoError(t, err)
}
