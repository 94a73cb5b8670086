// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyedMutex provides a fixed pool of channel-based mutexes keyed by
// string, with context-aware acquisition. Keys hash onto shards, so two
// distinct keys may contend; correctness only requires that the SAME key
// always maps to the same lock.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewKeyedMutex creates a new keyed mutex pool.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST invoke.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[m.shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
