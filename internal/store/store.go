package store

import (
	"sync"
	"time"

	"github.com/swarmguard/mergekv/internal/crdt"
)

// StoredValue pairs a CRDT value with its freshness stamp. LastUpdated is
// refreshed at insertion and on any mutation or state-changing merge; it
// drives anti-entropy candidate selection, not CRDT ordering.
type StoredValue struct {
	Data        crdt.Value
	LastUpdated time.Time
}

// Store is a lock-striped map from key to StoredValue. Entry-level
// operations are atomic per key; operations on distinct keys land on
// independent shards and do not contend.
type Store struct {
	shards []shard
	mask   uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]StoredValue
}

// New creates a store with 2^shardPow shards.
func New(shardPow uint8) *Store {
	if shardPow > 10 {
		shardPow = 10
	} // cap 1024 shards
	n := 1 << shardPow
	s := &Store{mask: uint64(n - 1)}
	s.shards = make([]shard, n)
	for i := 0; i < n; i++ {
		s.shards[i].m = make(map[string]StoredValue)
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv32(key)
	return &s.shards[uint64(h)&s.mask]
}

// Get returns a deep-copied snapshot of the entry.
func (s *Store) Get(key string) (StoredValue, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sv, ok := sh.m[key]
	if !ok {
		return StoredValue{}, false
	}
	return StoredValue{Data: sv.Data.Clone(), LastUpdated: sv.LastUpdated}, true
}

// Put installs the value unconditionally, stamping it with now.
func (s *Store) Put(key string, v crdt.Value) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.m[key] = StoredValue{Data: v, LastUpdated: time.Now()}
}

// Update runs fn on the existing entry under the shard lock. fn returns
// whether the entry changed; a change refreshes LastUpdated. Returns false
// when the key is absent. fn must not block.
func (s *Store) Update(key string, fn func(*StoredValue) bool) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sv, ok := sh.m[key]
	if !ok {
		return false
	}
	if fn(&sv) {
		sv.LastUpdated = time.Now()
	}
	sh.m[key] = sv
	return true
}

// Upsert runs modify on an existing entry, or installs insert() when the
// key is absent. Atomic per entry; the same change/freshness rule as
// Update applies to modify.
func (s *Store) Upsert(key string, modify func(*StoredValue) bool, insert func() crdt.Value) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sv, ok := sh.m[key]
	if !ok {
		sh.m[key] = StoredValue{Data: insert(), LastUpdated: time.Now()}
		return
	}
	if modify(&sv) {
		sv.LastUpdated = time.Now()
	}
	sh.m[key] = sv
}

// Range calls fn with a shallow view of every entry until fn returns false.
// fn must not retain or mutate the value.
func (s *Store) Range(fn func(key string, sv StoredValue) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, v := range sh.m {
			if !fn(k, v) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// RecentlyUpdated returns deep-copied snapshots of every entry whose
// LastUpdated is at or after the cutoff.
func (s *Store) RecentlyUpdated(cutoff time.Time) map[string]crdt.Value {
	out := make(map[string]crdt.Value)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, v := range sh.m {
			if !v.LastUpdated.Before(cutoff) {
				out[k] = v.Data.Clone()
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of keys.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	const prime = 16777619
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
