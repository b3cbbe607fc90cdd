// store.go implements the sharded in-memory registry of named bloom filters.
//
// Sharding Strategy
// =================
//
// The store partitions filter names across 256 independent shards, each with
// its own RWMutex. Two operations on different names typically hit different
// shards and proceed in parallel. Names are assigned to shards using
// xxHash64 modulo 256, the same hash family the rest of the codebase uses
// for item hashing.
//
// Locking Model
// =============
//
// The shard lock protects the name -> filter map, not the filter contents.
// Filters are constructed thread-safe, so concurrent BF.ADD calls against the
// same filter run under the shard's *read* lock and rely on the filter's
// atomic bit array for correctness. The exclusive lock is taken only to
// create or delete entries, and by the snapshot writer, which needs the
// backing words quiescent while it copies them (an in-flight add could
// otherwise tear the copy).

package main

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"sieve.lopezb.com/internal/sieve/bloom"
)

// shardCount determines how many independent maps we maintain. 256 is enough
// to make lock contention negligible while keeping snapshot iteration cheap.
const shardCount = 256

// filterEntry couples a filter with the parameters it was created from.
// The parameters are carried for BF.INFO and the snapshot header; the filter
// itself only knows its derived hash count and bit length.
type filterEntry struct {
	filter    *bloom.Filter[string]
	errorRate float64
	capacity  int64
}

// Shard is a single slice of the registry. Locking one shard does not block
// the others.
type Shard struct {
	mu      sync.RWMutex
	filters map[string]*filterEntry
}

// Store routes filter names to shards.
type Store struct {
	shards [shardCount]*Shard
}

// NewStore creates and initializes the sharded store.
func NewStore() *Store {
	s := &Store{}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &Shard{filters: make(map[string]*filterEntry)}
	}
	return s
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// View runs fn on the entry for key while holding the shard read lock.
// Returns false without calling fn if the key does not exist. Read-only
// filter operations (Test) are safe inside fn; so are Adds, since the filter
// is thread-safe and the snapshot writer excludes them with the write lock.
func (s *Store) View(key string, fn func(*filterEntry)) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	e, ok := shard.filters[key]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Upsert runs fn on the entry for key, creating it with create() first if
// absent. The common path (entry exists) holds only the read lock, so
// concurrent Upserts on the same filter proceed in parallel.
func (s *Store) Upsert(key string, create func() *filterEntry, fn func(*filterEntry)) {
	shard := s.getShard(key)

	shard.mu.RLock()
	if e, ok := shard.filters[key]; ok {
		fn(e)
		shard.mu.RUnlock()
		return
	}
	shard.mu.RUnlock()

	// Slow path: take the write lock and re-check, another goroutine may
	// have created the entry in the gap.
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.filters[key]
	if !ok {
		e = create()
		shard.filters[key] = e
	}
	fn(e)
}

// Create inserts a new entry. Returns false if the key already exists.
func (s *Store) Create(key string, e *filterEntry) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.filters[key]; exists {
		return false
	}
	shard.filters[key] = e
	return true
}

// Delete removes a key. Returns true if the key existed.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	_, ok := shard.filters[key]
	if ok {
		delete(shard.filters, key)
	}
	return ok
}

// Count returns the total number of filters across all shards.
func (s *Store) Count() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.filters)
		shard.mu.RUnlock()
	}
	return total
}
