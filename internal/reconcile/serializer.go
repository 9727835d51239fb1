package reconcile

import (
	"hash/fnv"
	"sync"
)

// shardCount is the number of worker shards a deposit id can hash into.
// Cross-deposit work runs unordered and concurrent; With calls for the same
// deposit id always land on the same shard and so are serialized behind the
// same mutex.
const shardCount = 32

// Serializer guarantees at most one in-flight With call per deposit id,
// while letting unrelated ids proceed concurrently, by hashing the id onto a
// fixed set of mutex shards. Work that does not go through With is not
// serialized by it; in this repository only Reconciler.notifyTransitions
// calls With.
type Serializer struct {
	shards [shardCount]sync.Mutex
}

// NewSerializer returns a ready-to-use Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// With runs fn while holding the shard lock for id, blocking until any
// other With call for the same id (or an id on the same shard) has finished.
func (s *Serializer) With(id string, fn func()) {
	shard := &s.shards[shardIndex(id)]
	shard.Lock()
	defer shard.Unlock()
	fn()
}

func shardIndex(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32() % shardCount
}
