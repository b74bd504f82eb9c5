// Package cachestore wraps a store.Store with an LRU cache of point lookups.
// The chain engine resolves previous/next links by id, which is what the cache serves.
package cachestore

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ASHISH26940/chaindb/internal/store"
)

// Store caches Get results of the wrapped store. Writes invalidate the ids they touch.
type Store struct {
	// mu orders cache fills against writes so a fill never reinstates a stale record.
	mu    sync.RWMutex
	inner store.Store
	cache *lru.Cache
}

// New wraps inner with a cache holding up to size records.
func New(inner store.Store, size int) (*Store, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Store{inner: inner, cache: cache}, nil
}

func (s *Store) Insert(ctx context.Context, rec store.VersionRecord) (store.VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.inner.Insert(ctx, rec)
	if err == nil {
		s.cache.Add(rec.ID, rec)
	}
	return rec, err
}

func (s *Store) Get(ctx context.Context, id string) (store.VersionRecord, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(store.VersionRecord), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.inner.Get(ctx, id)
	if err != nil {
		return rec, err
	}
	s.cache.Add(id, rec)
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, c store.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
	return s.inner.Update(ctx, id, c)
}

func (s *Store) Scan(ctx context.Context, f store.Filter) ([]store.VersionRecord, error) {
	return s.inner.Scan(ctx, f)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return s.inner.DeleteAll(ctx)
}

func (s *Store) Batch(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Batch(ctx, func(tx store.Tx) error {
		return fn(&evictingTx{Tx: tx, cache: s.cache})
	})
}

// Import forwards to the wrapped store when it supports importing.
func (s *Store) Import(ctx context.Context, recs []store.VersionRecord) error {
	imp, ok := s.inner.(store.Importer)
	if !ok {
		return fmt.Errorf("cachestore: wrapped %T cannot import records", s.inner)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return imp.Import(ctx, recs)
}

// Len reports how many records are cached.
func (s *Store) Len() int {
	return s.cache.Len()
}

// evictingTx drops a record from the cache before the batch commits its update.
// Lock-free cache hits then can never return the pre-batch copy of a record the
// batch already made visible to Scan.
type evictingTx struct {
	store.Tx
	cache *lru.Cache
}

func (t *evictingTx) Update(id string, c store.Changes) error {
	t.cache.Remove(id)
	return t.Tx.Update(id, c)
}
