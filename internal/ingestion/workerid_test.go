package ingestion_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kd17290/url-shortener/internal/ingestion"
)

func TestAssignWorkerID_StableForSameIdentity(t *testing.T) {
	id1 := ingestion.AssignWorkerID("pod-abc-123", 8)
	id2 := ingestion.AssignWorkerID("pod-abc-123", 8)
	assert.Equal(t, id1, id2)
}

func TestAssignWorkerID_WithinSlotRange(t *testing.T) {
	slotCount := 4
	for _, identity := range []string{"a", "b", "c", "pod-1", "pod-2", "hostname-xyz"} {
		id := ingestion.AssignWorkerID(identity, slotCount)
		n, err := strconv.Atoi(id)
		require.NoError(t, err)
		assert.True(t, n >= 0 && n < slotCount, "worker id %q out of range for %d slots", id, slotCount)
	}
}

func TestAssignWorkerID_DistributesAcrossSlots(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		identity := "pod-" + strconv.Itoa(i)
		seen[ingestion.AssignWorkerID(identity, 8)] = true
	}
	assert.True(t, len(seen) > 1, "expected identities to spread across more than one slot")
}
