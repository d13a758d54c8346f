package ingestion

import (
	"fmt"
	"hash/fnv"

	"github.com/dgryski/go-rendezvous"
)

// AssignWorkerID maps an unstable process identity (a pod name, a hostname
// with a random suffix) onto one of a fixed set of numbered slots, using
// rendezvous hashing over the slot set. A worker that restarts under the
// same identity string lands on the same slot and rejoins the same
// agg:<worker_id> hash rather than orphaning the old one (SPEC_FULL §11 —
// dgryski/go-rendezvous is an indirect dependency of the go-redis ring
// client elsewhere in the corpus, promoted here to a direct, deliberately
// exercised one).
func AssignWorkerID(identity string, slotCount int) string {
	slots := make([]string, slotCount)
	for i := range slots {
		slots[i] = fmt.Sprintf("%d", i)
	}

	r := rendezvous.New(slots, hashString)
	return r.Lookup(identity)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
