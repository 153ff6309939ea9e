package tierfabric

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// memLRU is the in-process bounded LRU tier (§4.C tier 1): first hit wins
// on read, also used for existence memoization. The IngestCoordinator's
// in-flight table is a separate map in package ingest, not this cache.
type memLRU struct {
	cache *lru.LRU[string, *Entry]
}

const memLRUTTL = 60 * time.Second

func newMemLRU(maxEntries int) *memLRU {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &memLRU{cache: lru.NewLRU[string, *Entry](maxEntries, nil, memLRUTTL)}
}

func (m *memLRU) Name() string { return "memLRU" }

func (m *memLRU) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.cache.Peek(key)
	return ok, nil
}

// Get returns whatever Entry was stored under key, regardless of Kind: the
// in-process map needs no encoding, so it is the one tier where a single
// untyped accessor is both correct and cheapest.
func (m *memLRU) Get(_ context.Context, key string) (*Entry, error) {
	e, ok := m.cache.Get(key)
	if !ok {
		return nil, errNotFound(key)
	}
	return e, nil
}

func (m *memLRU) Put(_ context.Context, key string, e *Entry) error {
	m.cache.Add(key, e)
	return nil
}

func (m *memLRU) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Quarantine simply purges the key from memLRU; quarantine has no
// separate in-memory namespace, since entries here are short-lived anyway
// (§4.C quarantine paragraph: "purges memLRU").
func (m *memLRU) Quarantine(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}
